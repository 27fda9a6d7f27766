// Package runner executes a named scanner against a target string in a
// bounded subprocess and returns a structured result (C4, spec §4.4).
package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shadowpulse/reconengine/internal/domain"
	"github.com/shadowpulse/reconengine/internal/errs"
	"github.com/shadowpulse/reconengine/internal/scope"
	"github.com/shadowpulse/reconengine/pkg/scanners"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// LinePublisher is the subset of the event bus the runner needs: streaming
// raw stdout/stderr lines tagged with a scan id (spec §4.4 step 4). Kept as
// an interface here so runner does not import internal/eventbus directly.
type LinePublisher interface {
	PublishScanLine(scanID, line string)
}

// maxBufferedLines bounds the in-memory line buffer per scan; beyond this,
// the oldest lines are dropped and DroppedLines increments (spec §4.4).
const maxBufferedLines = 5000

// maxRawOutputBytes is the retention cap raw output is truncated to before
// persistence (spec §4.4 step 6).
const maxRawOutputBytes = 2 << 20 // 2 MiB

// targetRateLimit throttles how often this runner fires scanner subprocesses
// against the same target string, keeping the engine from hammering a host
// with back-to-back probes across the DAG's stages (nmap immediately
// followed by httpx immediately followed by nuclei, say).
const (
	targetRateLimit = rate.Limit(2) // 2 scans/sec steady state
	targetRateBurst = 1
)

// Runner executes scanner subprocesses.
type Runner struct {
	workDir  string
	bus      LinePublisher
	log      zerolog.Logger
	breaker  *gobreaker.CircuitBreaker
	limiters sync.Map // target string -> *rate.Limiter
}

// Result is what the Runner hands back to the caller for normalization and
// ingestion.
type Result struct {
	Parsed       scanners.ParseResult
	RawOutput    string
	DroppedLines int
	ExitErr      error
	FailureKind  string // "", "timeout", "scanner_error"
}

// New constructs a Runner. workDir is the parent directory under which each
// scan gets its own working directory (spec §4.4 step 3).
func New(workDir string, bus LinePublisher, log zerolog.Logger) *Runner {
	cbSettings := gobreaker.Settings{
		Name:        "scanner-runner",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Runner{
		workDir: workDir,
		bus:     bus,
		log:     log.With().Str("component", "runner").Logger(),
		breaker: gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// Run executes one scanner against one target string. targetPolicy gates the
// target (spec §4.4 step 1); a scope denial is fatal and not retried.
func (r *Runner) Run(ctx context.Context, scanID string, desc scanners.Descriptor, targetPolicy domain.ScopePolicy, target string) (Result, error) {
	if err := scope.Enforce(targetPolicy, target); err != nil {
		return Result{}, err
	}

	if err := r.limiterFor(target).Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("runner: rate limit wait: %w", err)
	}

	out, err := r.breaker.Execute(func() (any, error) {
		return r.execOnce(ctx, scanID, desc, target)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Result{FailureKind: "scanner_error"}, fmt.Errorf("%w: circuit open: %v", errs.ErrDependencyUnreachable, err)
		}
		return Result{}, err
	}
	return out.(Result), nil
}

// limiterFor returns the per-target token bucket, creating it on first use.
func (r *Runner) limiterFor(target string) *rate.Limiter {
	if l, ok := r.limiters.Load(target); ok {
		return l.(*rate.Limiter)
	}
	l, _ := r.limiters.LoadOrStore(target, rate.NewLimiter(targetRateLimit, targetRateBurst))
	return l.(*rate.Limiter)
}

func (r *Runner) execOnce(ctx context.Context, scanID string, desc scanners.Descriptor, target string) (Result, error) {
	runDir := filepath.Join(r.workDir, scanID)
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("runner: mkdir workdir: %w", err)
	}
	defer os.RemoveAll(runDir)

	deadline := desc.Timeout()
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	argv := substituteArgv(desc.ArgvTemplate, scanners.TemplateArgs{Target: target})
	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = runDir
	cmd.Env = minimalEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("runner: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("runner: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: start %s: %v", errs.ErrScannerError, desc.Name, err)
	}

	var lines []string
	var dropped int
	var mu sync.Mutex
	collect := func(rd *bufio.Scanner) {
		for rd.Scan() {
			line := Redact(rd.Text())
			if r.bus != nil {
				r.bus.PublishScanLine(scanID, line)
			}
			mu.Lock()
			if len(lines) >= maxBufferedLines {
				lines = lines[1:]
				dropped++
			}
			lines = append(lines, line)
			mu.Unlock()
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); collect(bufio.NewScanner(stdout)) }()
	go func() { defer wg.Done(); collect(bufio.NewScanner(stderr)) }()

	peakRSS := r.watchResources(execCtx, cmd)

	wg.Wait()
	waitErr := cmd.Wait()
	peakRSS.stop()

	rawOutput := ""
	if len(lines) > 0 {
		rawOutput = strings.Join(lines, "\n") + "\n"
	}
	if len(rawOutput) > maxRawOutputBytes {
		rawOutput = rawOutput[:maxRawOutputBytes]
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{RawOutput: rawOutput, DroppedLines: dropped, FailureKind: "timeout"},
			fmt.Errorf("%w: %s exceeded %s", errs.ErrScannerTimeout, desc.Name, deadline)
	}

	if waitErr != nil {
		if rawOutput == "" {
			return Result{RawOutput: rawOutput, DroppedLines: dropped, FailureKind: "scanner_error"},
				fmt.Errorf("%w: %s: %v", errs.ErrScannerError, desc.Name, waitErr)
		}
		// Non-zero exit with parseable output: parse and complete with
		// warnings rather than failing outright (spec §4.4).
	}

	parsed, parseErr := desc.Parser(rawOutput)
	if parseErr != nil {
		return Result{RawOutput: rawOutput, DroppedLines: dropped, FailureKind: "scanner_error"},
			fmt.Errorf("%w: %s parser: %v", errs.ErrScannerError, desc.Name, parseErr)
	}
	if waitErr != nil {
		parsed.Warnings = append(parsed.Warnings, fmt.Sprintf("exit error: %v", waitErr))
	}

	return Result{Parsed: parsed, RawOutput: rawOutput, DroppedLines: dropped}, nil
}

func substituteArgv(template []string, args scanners.TemplateArgs) []string {
	out := make([]string, len(template))
	for i, t := range template {
		s := strings.ReplaceAll(t, "{{.Target}}", args.Target)
		s = strings.ReplaceAll(s, "{{.Port}}", args.Port)
		out[i] = s
	}
	return out
}

// minimalEnv strips the parent environment down to PATH, denying scanner
// subprocesses ambient credentials (spec §4.4 sandboxing intent).
func minimalEnv() []string {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PATH=") {
			return []string{kv}
		}
	}
	return nil
}

type resourceWatch struct {
	cancel context.CancelFunc
}

func (w *resourceWatch) stop() {
	if w != nil && w.cancel != nil {
		w.cancel()
	}
}

// watchResources polls the child process's RSS via gopsutil so long-running
// scans can be observed for runaway memory use; it does not enforce a
// limit itself (the process-level timeout is the hard bound).
func (r *Runner) watchResources(ctx context.Context, cmd *exec.Cmd) *resourceWatch {
	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if cmd.Process == nil {
					continue
				}
				proc, err := process.NewProcess(int32(cmd.Process.Pid))
				if err != nil {
					continue
				}
				if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
					r.log.Debug().Uint64("rss_bytes", mem.RSS).Msg("scanner child resource sample")
				}
			}
		}
	}()
	return &resourceWatch{cancel: cancel}
}
