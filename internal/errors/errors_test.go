package errors

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuillErrorString(t *testing.T) {
	testCases := []struct {
		name     string
		err      *QuillError
		contains []string
	}{
		{
			name:     "syntax error without template",
			err:      NewSyntaxError(ErrCodeUnterminated, 7, "unterminated block marker"),
			contains: []string{"[unterminated_marker]", "offset 7", "unterminated block marker"},
		},
		{
			name: "parse error with location",
			err: NewParseError(ErrCodeMismatchedBlock, 4, "mismatched block").
				WithTemplate("page").
				WithLocation("ab\ncdef"),
			contains: []string{"page:2:2", "mismatched block"},
		},
		{
			name:     "compile error with chain",
			err:      NewCompileError(ErrCodeImportCycle, "import cycle", "a", "b", "a"),
			contains: []string{"import cycle", "(a -> b -> a)"},
		},
		{
			name:     "render error with cause",
			err:      NewRenderError(ErrCodeHelperFailed, "helper failed", errors.New("boom")),
			contains: []string{"helper failed: boom"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.Error()
			for _, want := range tc.contains {
				assert.Contains(t, msg, want)
			}
		})
	}
}

func TestPosition(t *testing.T) {
	src := "one\ntwo\nthree"

	line, col := Position(src, 0)
	assert.Equal(t, 1, line)
	assert.Equal(t, 1, col)

	line, col = Position(src, 4)
	assert.Equal(t, 2, line)
	assert.Equal(t, 1, col)

	line, col = Position(src, 10)
	assert.Equal(t, 3, line)
	assert.Equal(t, 3, col)

	line, _ = Position(src, 1000)
	assert.Equal(t, 3, line)
}

func TestWithTemplateKeepsInnermost(t *testing.T) {
	err := NewParseError(ErrCodeUnclosedBlock, 0, "unclosed").WithTemplate("partial")
	err.WithTemplate("page")

	assert.Equal(t, "partial", err.Template)
}

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("rendering: %w", NewHelperNotFoundError("upper"))

	assert.True(t, IsHelperNotFound(wrapped))
	assert.False(t, IsPartialNotFound(wrapped))
	assert.True(t, IsPartialNotFound(NewPartialNotFoundError("row")))
	assert.True(t, IsNotFound(NewNotFoundError("page", nil)))
	assert.True(t, IsCompileTime(NewSyntaxError(ErrCodeUnterminated, 0, "x")))
	assert.True(t, IsCompileTime(NewCompileError(ErrCodeImportCycle, "x")))
	assert.False(t, IsCompileTime(NewRenderError(ErrCodeHelperFailed, "x", nil)))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewCompileError(ErrCodeImportCycle, "cycle", "a", "a"))

	assert.True(t, errors.Is(err, &QuillError{Type: ErrorTypeCompile, Code: ErrCodeImportCycle}))
	assert.False(t, errors.Is(err, &QuillError{Type: ErrorTypeCompile, Code: ErrCodeHelperArity}))
}

func TestErrorCollector(t *testing.T) {
	collector := NewErrorCollector()
	assert.False(t, collector.HasErrors())
	assert.NoError(t, collector.Err())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			collector.Add(fmt.Sprintf("t%d", i), NewParseError(ErrCodeUnclosedBlock, i, "unclosed"))
		}(i)
	}
	wg.Wait()

	collector.Add("ignored", nil)

	require.Equal(t, 10, collector.Count())
	assert.Equal(t, "t0", collector.Templates()[0])

	err, ok := collector.Get("t3")
	require.True(t, ok)
	var qe *QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "t3", qe.Template)

	assert.Error(t, collector.Err())
}
