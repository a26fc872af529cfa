package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("sqlite", "file::memory:")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 100, clampLimit(0, 100))
	assert.Equal(t, 100, clampLimit(500, 100))
	assert.Equal(t, 5, clampLimit(5, 100))
}

func TestDialectorForIgnoresCase(t *testing.T) {
	d, err := dialectorFor("MySQL", "user:pass@tcp(localhost:3306)/agri")
	assert.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = dialectorFor(" PostgreSQL ", "host=localhost")
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}
