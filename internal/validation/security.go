// Package validation provides input checks for template names, filesystem
// paths and request origins, preventing path traversal and injection through
// names that end up on disk or in URLs.
package validation

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

var dangerousChars = []string{";", "&", "|", "$", "`", "<", ">", "\x00"}

// ValidateTemplateName checks a logical template name such as
// "partials/header". Names are slash-separated, relative and may not
// escape the template root.
func ValidateTemplateName(name string) error {
	if name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("absolute template name not allowed: %s", name)
	}

	if strings.Contains(name, "\\") {
		return fmt.Errorf("template name must use forward slashes: %s", name)
	}

	// Check for path traversal attempts
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected: %s", name)
		}
	}

	if cleaned := path.Clean(name); cleaned == "." {
		return fmt.Errorf("template name cannot be empty")
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("template name contains dangerous character: %q", char)
		}
	}

	return nil
}

// ValidatePath validates a configured filesystem path such as the template
// directory or a bundle output file.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Check for path traversal attempts on relative paths
	if !filepath.IsAbs(p) {
		for _, segment := range strings.Split(filepath.ToSlash(filepath.Clean(p)), "/") {
			if segment == ".." {
				return fmt.Errorf("path traversal detected: %s", p)
			}
		}
	}

	// Additional checks for dangerous characters in paths
	for _, char := range dangerousChars {
		if strings.Contains(p, char) {
			return fmt.Errorf("path contains dangerous character: %q", char)
		}
	}

	return nil
}

// ValidateOrigin validates a WebSocket origin for CSRF protection. An
// allowed entry matches either the full origin or its host.
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	// Parse the origin URL
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	// Only allow http/https schemes
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateFileExtension validates file extensions against an allowlist
func ValidateFileExtension(filename string, allowedExtensions []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}

	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("file extension '%s' is not allowed", ext)
}
