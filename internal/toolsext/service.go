package toolsext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
	"github.com/skeletoncrew/nodecraft/internal/toolregistry"
)

// LoadAndRegister walks cfg.ExternalDir for tool.yaml manifests and
// registers each as a tool on reg. A manifest that fails to load or
// validate is logged and skipped rather than aborting the whole load,
// matching the teacher's "one bad skill shouldn't block the others"
// loading behavior.
func LoadAndRegister(cfg config.ToolsConfig, reg *toolregistry.Registry, logger *slog.Logger) error {
	if !cfg.ExternalEnabled {
		return nil
	}
	root := cfg.ExternalDir
	if root == "" {
		return fmt.Errorf("tools.external_directory not configured")
	}

	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(d.Name(), "tool.yaml") {
			return nil
		}
		mf, err := Load(path)
		if err != nil {
			logger.Error("failed to load external tool manifest", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if err := Validate(mf); err != nil {
			logger.Error("invalid external tool manifest", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if err := register(mf, filepath.Dir(path), reg); err != nil {
			logger.Error("failed to register external tool", slog.String("tool", mf.Metadata.Name), slog.String("error", err.Error()))
			return nil
		}
		count++
		logger.Info("external tool registered", slog.String("tool", mf.Metadata.Name))
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 {
		logger.Warn("no external tools discovered", slog.String("directory", root))
	}
	return nil
}

func register(mf Manifest, directory string, reg *toolregistry.Registry) error {
	parser := shellwords.NewParser()
	cmdArgs, err := parser.Parse(mf.Command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(cmdArgs) == 0 {
		return fmt.Errorf("command is empty")
	}

	schema := toolregistry.Schema{}
	for name, p := range mf.Params {
		schema[name] = toolregistry.FieldSpec{
			Type:     toolregistry.FieldType(p.Type),
			Required: p.Required,
		}
	}

	timeout := time.Duration(mf.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return reg.Register(toolregistry.Spec{
		Name:        mf.Metadata.Name,
		Description: mf.Metadata.Description,
		Params:      schema,
		Handler:     makeHandler(cmdArgs, directory, timeout),
	})
}

type execRequest struct {
	Args     map[string]any `json:"args"`
	CallerID string         `json:"caller_id"`
}

type execResponse struct {
	Result       map[string]any `json:"result"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// makeHandler returns a toolregistry.Handler that shells out to cmdArgs,
// passing args and caller_id as a JSON payload on stdin and decoding a
// JSON response from stdout — the same stdin/stdout JSON contract the
// teacher uses for its LLM and TTS exec backends.
func makeHandler(cmdArgs []string, directory string, timeout time.Duration) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any, callerID string) (map[string]any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reqBody, err := json.Marshal(execRequest{Args: args, CallerID: callerID})
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, "marshal external tool request", err)
		}

		base := cmdArgs[0]
		rest := cmdArgs[1:]
		command := exec.CommandContext(ctx, base, rest...)
		command.Dir = directory
		command.Stdin = bytes.NewReader(reqBody)

		var stdout, stderr bytes.Buffer
		command.Stdout = &stdout
		command.Stderr = &stderr

		if err := command.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, errkind.Wrap(errkind.RemoteTimeout, "external tool timed out", ctx.Err())
			}
			return nil, errkind.Wrap(errkind.Internal, fmt.Sprintf("external tool failed: %s", stderr.String()), err)
		}

		var resp execResponse
		if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
			return nil, errkind.Wrap(errkind.Internal, "decode external tool response", err)
		}
		if resp.ErrorKind != "" {
			return nil, errkind.New(errkind.Kind(resp.ErrorKind), resp.ErrorMessage)
		}
		return resp.Result, nil
	}
}
