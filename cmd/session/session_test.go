package session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajkula/ravenlog/pkg/anomaly"
	"github.com/ajkula/ravenlog/pkg/logparse"
)

// newCommand builds a root with the global flags and one subcommand carrying
// the given local flags, then parses args
func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	root := &cobra.Command{Use: "ravenlog"}
	root.PersistentFlags().String("config", "", "")
	root.PersistentFlags().Bool("verbose", false, "")
	root.PersistentFlags().Bool("quiet", false, "")
	root.PersistentFlags().Bool("no-color", false, "")

	sub := &cobra.Command{Use: "score", RunE: func(*cobra.Command, []string) error { return nil }}
	sub.Flags().String("format", "", "")
	sub.Flags().String("policy", "", "")
	sub.Flags().String("db", "", "")
	sub.Flags().String("profile", "", "")
	sub.Flags().Float64("pvalue-threshold", 0, "")
	root.AddCommand(sub)

	require.NoError(t, root.ParseFlags(nil))
	require.NoError(t, sub.ParseFlags(args))
	return sub
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ravenlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFileThenFlags(t *testing.T) {
	path := writeConfig(t, `
detector:
  log_format: "Combined"
  parse_policy: "fail-fast"
  pvalue_threshold: 0.05
store:
  enable: false
`)
	cmd := newCommand(t, "--config", path, "--policy", "skip")

	s, err := Load(cmd)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "Combined", s.Config.Detector.LogFormat)
	assert.Equal(t, "skip", s.Config.Detector.ParsePolicy)
	assert.Equal(t, 0.05, s.Config.Detector.PValueThreshold)

	rc, err := s.ReaderConfig()
	require.NoError(t, err)
	assert.Equal(t, logparse.FormatCombined, rc.Format)
	assert.Equal(t, logparse.PolicySkip, rc.Policy)

	_, err = s.Store()
	assert.ErrorIs(t, err, ErrStoreDisabled)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "store:\n  enable: false\n")
	t.Setenv("RAVENLOG_DETECTOR_LOG_FORMAT", "combined")

	s, err := Load(newCommand(t, "--config", path))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "combined", s.Config.Detector.LogFormat)
}

func TestLoadMissingExplicitConfig(t *testing.T) {
	_, err := Load(newCommand(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidFlag(t *testing.T) {
	path := writeConfig(t, "store:\n  enable: false\n")
	_, err := Load(newCommand(t, "--config", path, "--format", "w3c"))
	assert.Error(t, err)
}

func TestLoadProfileFallsBackToStore(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "store:\n  enable: true\n  path: \""+filepath.Join(dir, "r.db")+"\"\n")

	s, err := Load(newCommand(t, "--config", path, "--profile", filepath.Join(dir, "missing.json")))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.LoadProfile(ctx, "")
	assert.ErrorIs(t, err, anomaly.ErrUnfittedModel)

	st, err := s.Store()
	require.NoError(t, err)
	rec, err := st.SaveProfile(ctx, "train.log", &anomaly.Profile{LengthMean: 12})
	require.NoError(t, err)

	loaded, err := s.LoadProfile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, 12.0, loaded.Profile.LengthMean)

	byID, err := s.LoadProfile(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "store", byID.Origin)
}

func TestFormatterQuiet(t *testing.T) {
	var buf bytes.Buffer
	f := NewWriterFormatter(&buf)
	f.quiet = true

	f.PrintInfo("hidden")
	f.PrintSuccess("hidden")
	f.PrintWarning("shown")
	f.PrintError("shown too")

	assert.Equal(t, "[WARNING] shown\n[ERROR] shown too\n", buf.String())
}
