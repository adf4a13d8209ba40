package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/app"
	"github.com/JakeFAU/scholar-citations/internal/config"
)

type fakeApp struct {
	sel    app.Selection
	runErr error
	closed int
}

func (f *fakeApp) Run(_ context.Context, sel app.Selection) (app.Summary, error) {
	f.sel = sel
	return app.Summary{CSVPath: "out/NeurIPS2019.csv"}, f.runErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

func (f *fakeApp) GetLogger() *zap.Logger { return zap.NewNop() }

// withFakeApp swaps the factory; tests using it must not run in parallel.
func withFakeApp(t *testing.T, fake *fakeApp) *config.Config {
	t.Helper()
	var got config.Config
	prev := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		got = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = prev })
	return &got
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cites.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpoint:\n  backend: memory\nlogging:\n  development: false\n"), 0o600))
	return path
}

func TestRunCommandPassesSelection(t *testing.T) {
	fake := &fakeApp{}
	gotCfg := withFakeApp(t, fake)

	root := newRootCmd()
	root.SetArgs([]string{"--config", writeConfig(t), "run", "--year", "2019", "--month", "4", "--csvpath", "out"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Equal(t, app.Selection{Year: 2019, Month: 4, CSVDir: "out"}, fake.sel)
	assert.Equal(t, config.BackendMemory, gotCfg.Checkpoint.Backend)
	assert.Equal(t, 1, fake.closed)
}

func TestRunCommandClosesAfterFailure(t *testing.T) {
	fake := &fakeApp{runErr: errors.New("rotation exhausted")}
	withFakeApp(t, fake)

	root := newRootCmd()
	root.SetArgs([]string{"--config", writeConfig(t), "run", "--year", "2019"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 2019")
	assert.Equal(t, 1, fake.closed)
}

func TestRunCommandRequiresYearBeforeBuildingApp(t *testing.T) {
	built := false
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		built = true
		return &fakeApp{}, nil
	}
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	root.SetArgs([]string{"--config", writeConfig(t), "run"})
	root.SetErr(io.Discard)
	require.Error(t, root.ExecuteContext(context.Background()))
	assert.False(t, built)
}
