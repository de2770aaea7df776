package nvptx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NVPTXCOMPILE_SUCCESS", Success.String())
	assert.Equal(t, "NVPTXCOMPILE_ERROR_COMPILATION_FAILURE", ErrorCompilationFailure.String())
	assert.Equal(t, "NVPTXCOMPILE_ERROR_UNSUPPORTED_PTX_VERSION", ErrorUnsupportedPTXVersion.String())
	assert.Equal(t, "<unknown>", Status(42).String())
}

func TestStatusError(t *testing.T) {
	assert.NoError(t, statusError(Success, "nvPTXCompilerCompile"))

	err := statusError(ErrorCompilationFailure, "nvPTXCompilerCompile")
	assert.EqualError(t, err, "NVPTXCOMPILE_ERROR_COMPILATION_FAILURE error when calling nvPTXCompilerCompile")
	assert.Equal(t, ErrorCompilationFailure, StatusOf(err))
	assert.Equal(t, ErrorCompilationFailure, StatusOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, Success, StatusOf(nil))
	assert.Equal(t, ErrorInternal, StatusOf(fmt.Errorf("not native")))
}
