package patterns

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/otherjamesbrown/binaudit/pkg/materials"
)

func mustMaterial(t *testing.T, id int) materials.Material {
	t.Helper()
	m, ok := materials.Default().ByID(id)
	require.True(t, ok)
	return m
}

func mustLocale(lang string) language.Tag {
	return materials.Locale(lang)
}
