package jackadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/skeletoncrew/nodecraft/internal/config"
	"github.com/skeletoncrew/nodecraft/internal/domain"
	"github.com/skeletoncrew/nodecraft/internal/errkind"
)

// execClient shells out to a companion process that holds the real
// cgo/jack.h binding, using the same shellwords-parse + JSON-stdin/JSON-
// stdout pattern the teacher uses for its LLM and TTS exec backends.
type execClient struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`
}

type execResponse struct {
	Status       *execStatusPayload `json:"status,omitempty"`
	Ports        []domain.JackPort  `json:"ports,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

type execStatusPayload struct {
	Running       bool                    `json:"running"`
	SampleRate    int                     `json:"sample_rate"`
	BufferSize    int                     `json:"buffer_size"`
	Transport     domain.TransportState   `json:"transport"`
	FramePosition int64                   `json:"frame_position"`
	Ports         []domain.JackPort       `json:"ports"`
	Connections   []domain.JackConnection `json:"connections"`
}

func NewExecClient(cfg config.JackConfig) (Client, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse jack command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("jack command is empty")
	}
	return &execClient{cmd: args}, nil
}

func (c *execClient) invoke(ctx context.Context, op string, args map[string]any) (execResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqBody, err := json.Marshal(execRequest{Op: op, Args: args})
	if err != nil {
		return execResponse{}, fmt.Errorf("marshal jack request: %w", err)
	}

	base := c.cmd[0]
	cmdArgs := c.cmd[1:]
	command := exec.CommandContext(ctx, base, cmdArgs...)
	command.Stdin = bytes.NewReader(reqBody)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execResponse{}, errkind.Wrap(errkind.JackUnavailable,
			fmt.Sprintf("jack exec command failed: %s", stderr.String()), err)
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return execResponse{}, fmt.Errorf("decode jack response: %w", err)
	}
	if resp.ErrorKind != "" {
		return resp, errkind.New(errkind.Kind(resp.ErrorKind), resp.ErrorMessage)
	}
	return resp, nil
}

func (c *execClient) Status(ctx context.Context) (Status, error) {
	resp, err := c.invoke(ctx, "status", nil)
	if err != nil {
		if kind, ok := errkind.As(err); ok && kind == errkind.JackUnavailable {
			return Status{Running: false}, nil
		}
		return Status{}, err
	}
	if resp.Status == nil {
		return Status{Running: false}, nil
	}
	return Status{
		Running:       resp.Status.Running,
		SampleRate:    resp.Status.SampleRate,
		BufferSize:    resp.Status.BufferSize,
		Transport:     resp.Status.Transport,
		FramePosition: resp.Status.FramePosition,
		Ports:         resp.Status.Ports,
		Connections:   resp.Status.Connections,
	}, nil
}

func (c *execClient) ListPorts(ctx context.Context, filter PortFilter) ([]domain.JackPort, error) {
	resp, err := c.invoke(ctx, "list_ports", map[string]any{
		"direction": string(filter.Direction),
		"type":      string(filter.Type),
		"name_glob": filter.NameGlob,
	})
	if err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

func (c *execClient) Connect(ctx context.Context, source, sink string) error {
	_, err := c.invoke(ctx, "connect", map[string]any{"source": source, "sink": sink})
	return err
}

func (c *execClient) Disconnect(ctx context.Context, source, sink string) error {
	_, err := c.invoke(ctx, "disconnect", map[string]any{"source": source, "sink": sink})
	return err
}

func (c *execClient) TransportStart(ctx context.Context) error {
	_, err := c.invoke(ctx, "transport_start", nil)
	return err
}

func (c *execClient) TransportStop(ctx context.Context) error {
	_, err := c.invoke(ctx, "transport_stop", nil)
	return err
}

func (c *execClient) TransportLocate(ctx context.Context, frame int64) error {
	_, err := c.invoke(ctx, "transport_locate", map[string]any{"frame": frame})
	return err
}
