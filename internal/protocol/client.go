package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/quarrypm/quarry/internal/log"
)

const (
	// maxStderrLineBytes caps a single stderr line forwarded to the log.
	maxStderrLineBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrMethodNotSupported is returned when a method is invoked that the backend
// did not advertise during capability negotiation.
var ErrMethodNotSupported = fmt.Errorf("method not supported by backend")

// Client is a persistent connection to a build backend subprocess. Requests
// and responses travel as newline-delimited JSON over the backend's stdin and
// stdout. A single reader goroutine matches responses to in-flight requests
// by id.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Response
	readErr error
	closed  bool

	capabilities Capabilities
	identity     InitializeResult

	waitErr chan error
}

// Spawn starts the backend process given by command and args with workDir as
// its working directory. The returned client owns the process.
func Spawn(command string, args []string, workDir string, env []string, backendName string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = workDir
	if env != nil {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	logger := log.WithBackend(backendName)
	logger.Debug("spawning backend", "command", command, "work_dir", workDir)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start backend process: %w", err)
	}

	c := &Client{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger,
		pending: make(map[uint64]chan *Response),
		waitErr: make(chan error, 1),
	}

	go c.readLoop(stdout)
	go c.forwardStderr(stderr)
	go func() {
		c.waitErr <- cmd.Wait()
	}()

	return c, nil
}

// readLoop reads envelope lines from stdout and delivers them to waiting
// callers. It runs until stdout closes.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := NewResponseScanner(stdout)
	for scanner.Scan() {
		resp, err := DecodeResponse(scanner.Bytes())
		if err != nil {
			c.logger.Warn("discarding malformed backend output", "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("response for unknown request id", "id", resp.ID)
			continue
		}
		ch <- resp
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.failPending(fmt.Errorf("backend connection lost: %w", err))
}

// failPending wakes every in-flight caller with err and rejects future calls.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *Client) forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), maxStderrLineBytes)
	for scanner.Scan() {
		c.logger.Debug("backend stderr", "line", scanner.Text())
	}
}

// call performs a single request/response round trip.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("backend client is closed")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := &Request{Protocol: Version, ID: id, Method: method, Params: rawParams}

	c.writeMu.Lock()
	err = EncodeRequest(c.stdin, req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("send %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return err
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Negotiate exchanges capabilities with the backend. It must be called before
// any other method so that Supports can veto unadvertised calls.
func (c *Client) Negotiate(ctx context.Context) (Capabilities, error) {
	ours := Capabilities{
		Protocol: Version,
		Methods: []string{
			MethodInitialize,
			MethodGetMetadata,
			MethodOutputs,
			MethodBuild,
		},
	}
	var theirs Capabilities
	if err := c.call(ctx, MethodNegotiateCapabilities, ours, &theirs); err != nil {
		return Capabilities{}, err
	}
	if theirs.Protocol != Version {
		return Capabilities{}, fmt.Errorf("backend speaks protocol %d, want %d", theirs.Protocol, Version)
	}
	c.capabilities = theirs
	return theirs, nil
}

// Supports reports whether the backend advertised method during negotiation.
func (c *Client) Supports(method string) bool {
	for _, m := range c.capabilities.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (c *Client) checkSupported(method string) error {
	if !c.Supports(method) {
		return fmt.Errorf("%w: %s", ErrMethodNotSupported, method)
	}
	return nil
}

// Initialize hands the backend its manifest and working context.
func (c *Client) Initialize(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	if err := c.checkSupported(MethodInitialize); err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, err
	}
	c.identity = result
	return &result, nil
}

// Identity returns the name and version the backend reported at initialize.
func (c *Client) Identity() InitializeResult {
	return c.identity
}

// GetMetadata asks the backend for the dependency metadata of its source.
func (c *Client) GetMetadata(ctx context.Context, params GetMetadataParams) (*GetMetadataResult, error) {
	if err := c.checkSupported(MethodGetMetadata); err != nil {
		return nil, err
	}
	var result GetMetadataResult
	if err := c.call(ctx, MethodGetMetadata, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Outputs lists the package outputs the backend can produce.
func (c *Client) Outputs(ctx context.Context, params OutputsParams) (*OutputsResult, error) {
	if err := c.checkSupported(MethodOutputs); err != nil {
		return nil, err
	}
	var result OutputsResult
	if err := c.call(ctx, MethodOutputs, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Build asks the backend to build one output into the given work directory.
func (c *Client) Build(ctx context.Context, params BuildParams) (*BuildResult, error) {
	if err := c.checkSupported(MethodBuild); err != nil {
		return nil, err
	}
	var result BuildResult
	if err := c.call(ctx, MethodBuild, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close shuts the backend down. Closing stdin asks it to exit; if it does not
// within the grace period we escalate from SIGTERM to SIGKILL.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.stdin.Close()

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case err := <-c.waitErr:
		return err
	case <-grace.C:
	}

	c.logger.Warn("backend did not exit, sending SIGTERM")
	if c.cmd.Process != nil {
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			c.logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace.Reset(terminationGracePeriod)
	select {
	case err := <-c.waitErr:
		return err
	case <-grace.C:
		c.logger.Warn("backend did not exit after SIGTERM, sending SIGKILL")
		if c.cmd.Process != nil {
			if err := c.cmd.Process.Kill(); err != nil {
				c.logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		return <-c.waitErr
	}
}
