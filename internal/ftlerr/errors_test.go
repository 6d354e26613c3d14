package ftlerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"ftl/internal/ftlerr"
)

func TestKindFatalClassifiesAbortKinds(t *testing.T) {
	assert.True(t, ftlerr.DeviceOpen.Fatal())
	assert.True(t, ftlerr.GeometryQuery.Fatal())
	assert.True(t, ftlerr.EraseFailure.Fatal())

	assert.False(t, ftlerr.OutOfSpace.Fatal())
	assert.False(t, ftlerr.OutOfBounds.Fatal())
	assert.False(t, ftlerr.Corrupt.Fatal())
	assert.False(t, ftlerr.ClosedHandle.Fatal())
	assert.False(t, ftlerr.DeviceIO.Fatal())
}

func TestMaybeFatalAbortsOnFatalKind(t *testing.T) {
	var code int
	calls := 0
	restore := ftlerr.WithExitFuncForTest(func(c int) { code = c; calls++ })
	defer restore()

	ftlerr.MaybeFatal(ftlerr.New(ftlerr.EraseFailure, "erase lun 0 block 0"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, code)
}

func TestMaybeFatalNoOpsOnNonFatalKind(t *testing.T) {
	calls := 0
	restore := ftlerr.WithExitFuncForTest(func(int) { calls++ })
	defer restore()

	ftlerr.MaybeFatal(ftlerr.New(ftlerr.OutOfSpace, "out of SSD space"))
	assert.Equal(t, 0, calls)
}

func TestMaybeFatalNoOpsOnNilAndForeignErrors(t *testing.T) {
	calls := 0
	restore := ftlerr.WithExitFuncForTest(func(int) { calls++ })
	defer restore()

	ftlerr.MaybeFatal(nil)
	ftlerr.MaybeFatal(errors.New("not an ftlerr.Error"))
	assert.Equal(t, 0, calls)
}
