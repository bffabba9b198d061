package subprocess_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/artemis/snap2s3/internal/subprocess"
	"github.com/stretchr/testify/require"
)

func TestPipelineChainsStdoutToStdin(t *testing.T) {
	ctx := context.Background()

	p := subprocess.New(
		subprocess.Stage{Name: "echo", Path: "/bin/echo", Args: []string{"hello world"}},
		subprocess.Stage{Name: "upper", Path: "/usr/bin/tr", Args: []string{"a-z", "A-Z"}},
	)

	out, err := p.Start(ctx)
	require.NoError(t, err)

	got, err := io.ReadAll(out)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.Equal(t, "HELLO WORLD\n", string(got))
}

func TestPipelineFailurePropagates(t *testing.T) {
	ctx := context.Background()

	p := subprocess.New(
		subprocess.Stage{Name: "false", Path: "/bin/false"},
	)

	out, err := p.Start(ctx)
	require.NoError(t, err)

	_, _ = io.ReadAll(out)
	err = out.Close()
	require.Error(t, err)
}

func TestRunCapturesStdout(t *testing.T) {
	out, err := subprocess.Run(context.Background(), "echo", "/bin/echo", "hi")
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(out))
}

func TestRequireOnPathReportsMissingTools(t *testing.T) {
	err := subprocess.RequireOnPath("sh", "definitely-not-a-real-binary-xyz")
	require.Error(t, err)
}

func TestPipelineLastStageStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	p := subprocess.New(
		subprocess.Stage{Name: "echo", Path: "/bin/echo", Args: []string{"captured"}, Stdout: &buf},
	)
	_, err := p.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Wait())
	require.Equal(t, "captured\n", buf.String())
}
