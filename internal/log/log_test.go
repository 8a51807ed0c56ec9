package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupDefaultsToInfo(t *testing.T) {
	entry, err := Setup("")
	require.NoError(t, err)
	require.Equal(t, logrus.InfoLevel, entry.Logger.GetLevel())
}

func TestSetupParsesLevel(t *testing.T) {
	entry, err := Setup("debug")
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
}

func TestSetupRejectsInvalidLevel(t *testing.T) {
	_, err := Setup("not-a-level")
	require.Error(t, err)
}

func TestSetupUsesJSONFormatter(t *testing.T) {
	entry, err := Setup("info")
	require.NoError(t, err)
	_, ok := entry.Logger.Formatter.(*logrus.JSONFormatter)
	require.True(t, ok)
}
