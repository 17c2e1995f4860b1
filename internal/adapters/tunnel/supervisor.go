package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/mctier/lanlobby/internal/config"
	"github.com/mctier/lanlobby/internal/core"
)

const (
	// The daemon's RPC becomes reachable well before DHCP completes, so
	// log scraping gets a head start and the CLI fallback polls slower.
	cliPollInterval = 3 * time.Second
	maxCLIPolls     = 10
)

// Stderr lines after which the daemon can never come up. Anything else
// on stderr is routine logging.
var fatalPatterns = []string{
	"tun device error",
	"failed to create adapter",
}

// Supervisor spawns and babysits one overlay daemon process. It scrapes
// the daemon's log output for the DHCP-assigned virtual address, with
// the companion CLI as a fallback, and owns every piece of teardown.
type Supervisor struct {
	corePath     string
	cliPath      string
	workDir      string
	startTimeout time.Duration

	cli *cliClient

	mu        sync.Mutex
	state     core.TunnelState
	virtualIP string
	reason    string
	instance  string
	configDir string
	cmd       *exec.Cmd
	waitDone  chan struct{}
}

func NewSupervisor(cfg *config.Config) *Supervisor {
	return &Supervisor{
		corePath:     cfg.CorePath,
		cliPath:      cfg.CLIPath,
		workDir:      cfg.WorkDir,
		startTimeout: cfg.StartTimeout,
		cli:          &cliClient{binPath: cfg.CLIPath},
		state:        core.TunnelIdle,
	}
}

func (s *Supervisor) Start(ctx context.Context, namespace, secret, rendezvous string) (string, error) {
	s.mu.Lock()
	if s.state == core.TunnelConnecting || s.state == core.TunnelConnected {
		s.mu.Unlock()
		return "", core.ErrAlreadyRunning
	}

	instance := fmt.Sprintf("lanlobby-%d-%08x", time.Now().Unix(), rand.Uint32())
	configDir := filepath.Join(s.workDir, "config_"+instance)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: config dir: %v", core.ErrProcess, err)
	}

	stageNativeDeps(s.corePath, configDir)

	cmd := exec.Command(s.corePath,
		"--network-name", namespace,
		"--network-secret", secret,
		"--peers", rendezvous,
		"--dhcp", "true",
		"--instance-name", instance,
		"--config-dir", configDir,
		"--default-protocol", "udp",
		"--multi-thread",
		"--enable-kcp-proxy",
		"--latency-first",
		"--private-mode", "true",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: stdout pipe: %v", core.ErrProcess, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: stderr pipe: %v", core.ErrProcess, err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: spawn %s: %v", core.ErrProcess, s.corePath, err)
	}

	log.Info().Str("module", "tunnel").Str("instance", instance).Int("pid", cmd.Process.Pid).Msg("daemon started")

	s.state = core.TunnelConnecting
	s.instance = instance
	s.configDir = configDir
	s.cmd = cmd
	s.virtualIP = ""
	s.reason = ""
	s.waitDone = make(chan struct{})
	s.mu.Unlock()

	ipCh := make(chan string, 1)
	fatalCh := make(chan string, 1)
	exitCh := make(chan error, 1)

	go s.scanPipe("stdout", stdout, ipCh, fatalCh)
	go s.scanPipe("stderr", stderr, ipCh, fatalCh)
	go func() {
		err := cmd.Wait()
		close(s.waitDone)
		exitCh <- err
	}()

	return s.awaitAddress(ctx, instance, ipCh, fatalCh, exitCh)
}

// awaitAddress blocks until the daemon reports a virtual address, dies,
// or the deadline passes. Every failure path tears the daemon down.
func (s *Supervisor) awaitAddress(ctx context.Context, instance string, ipCh, fatalCh chan string, exitCh chan error) (string, error) {
	deadline := time.NewTimer(s.startTimeout)
	defer deadline.Stop()
	cliTick := time.NewTicker(cliPollInterval)
	defer cliTick.Stop()
	cliPolls := 0

	for {
		select {
		case <-ctx.Done():
			s.failAndStop("cancelled")
			return "", ctx.Err()

		case ip := <-ipCh:
			s.mu.Lock()
			s.state = core.TunnelConnected
			s.virtualIP = ip
			cmd := s.cmd
			waitDone := s.waitDone
			s.mu.Unlock()
			log.Info().Str("module", "tunnel").Str("instance", instance).Str("virtual_ip", ip).Msg("overlay address assigned")
			go s.monitor(cmd, waitDone)
			return ip, nil

		case reason := <-fatalCh:
			s.failAndStop(reason)
			return "", fmt.Errorf("%w: %s", core.ErrProcess, reason)

		case err := <-exitCh:
			reason := "daemon exited before address assignment"
			if err != nil {
				reason = fmt.Sprintf("daemon exited: %v", err)
			}
			s.failAndStop(reason)
			return "", fmt.Errorf("%w: %s", core.ErrProcess, reason)

		case <-deadline.C:
			s.failAndStop("no address within deadline")
			return "", fmt.Errorf("%w: no virtual address within %s", core.ErrTimeout, s.startTimeout)

		case <-cliTick.C:
			if cliPolls >= maxCLIPolls {
				continue
			}
			cliPolls++
			addr, err := s.cli.NodeAddress(ctx, instance)
			if err != nil {
				log.Debug().Err(err).Str("module", "tunnel").Msg("cli address poll failed")
				continue
			}
			if addr != "" {
				select {
				case ipCh <- addr:
				default:
				}
			}
		}
	}
}

func (s *Supervisor) scanPipe(name string, r io.Reader, ipCh, fatalCh chan string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		log.Trace().Str("module", "tunnel").Str("pipe", name).Msg(line)

		lower := strings.ToLower(line)
		for _, p := range fatalPatterns {
			if strings.Contains(lower, p) {
				select {
				case fatalCh <- line:
				default:
				}
				return
			}
		}
		if ip := extractVirtualIP(line); ip != "" {
			select {
			case ipCh <- ip:
			default:
			}
		}
	}
}

// monitor outlives Start and watches a connected daemon until it
// exits. A deliberate Stop clears s.cmd before killing the process, so
// only an unexpected death reaches the state flip here.
func (s *Supervisor) monitor(cmd *exec.Cmd, waitDone chan struct{}) {
	<-waitDone

	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	instance := s.instance
	configDir := s.configDir
	s.cmd = nil
	s.instance = ""
	s.configDir = ""
	s.virtualIP = ""
	s.state = core.TunnelDisconnected
	s.reason = "daemon exited unexpectedly"
	s.mu.Unlock()

	log.Warn().Str("module", "tunnel").Str("instance", instance).Msg("daemon exited unexpectedly")
	s.cleanup(instance, configDir)
}

// failAndStop records the failure reason, then reuses the regular
// teardown path. The final state is Error, not Disconnected.
func (s *Supervisor) failAndStop(reason string) {
	s.Stop()
	s.mu.Lock()
	s.state = core.TunnelError
	s.reason = reason
	s.mu.Unlock()
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	instance := s.instance
	configDir := s.configDir
	waitDone := s.waitDone
	s.cmd = nil
	s.instance = ""
	s.configDir = ""
	s.virtualIP = ""
	s.reason = ""
	s.state = core.TunnelDisconnected
	s.mu.Unlock()

	if cmd == nil {
		return
	}

	log.Info().Str("module", "tunnel").Str("instance", instance).Msg("stopping daemon")

	if cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			log.Debug().Err(err).Str("module", "tunnel").Msg("kill failed")
		}
	}
	if waitDone != nil {
		select {
		case <-waitDone:
		case <-time.After(5 * time.Second):
			log.Warn().Str("module", "tunnel").Msg("daemon did not exit after kill")
		}
	}

	s.cleanup(instance, configDir)
}

// cleanup stops the companion CLI's daemon handle, tears the virtual
// adapter down where that needs doing, and removes the per-instance
// config dir. Shared by Stop and the post-connect monitor.
func (s *Supervisor) cleanup(instance, configDir string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.cli.Stop(ctx, instance)

	cleanupAdapter(ctx, instance)

	if configDir != "" {
		backoff := retry.WithMaxRetries(2, retry.NewConstant(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(_ context.Context) error {
			if err := os.RemoveAll(configDir); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "tunnel").Str("dir", configDir).Msg("config dir removal failed")
		}
	}
}

func (s *Supervisor) Status() core.TunnelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.TunnelStatus{State: s.state, VirtualIP: s.virtualIP, Reason: s.reason}
}

func (s *Supervisor) VirtualIP() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.virtualIP, s.state == core.TunnelConnected
}

// Peers proxies the daemon's routing table for diagnostics. Empty when
// no daemon is live.
func (s *Supervisor) Peers(ctx context.Context) ([]PeerInfo, error) {
	s.mu.Lock()
	instance := s.instance
	s.mu.Unlock()
	if instance == "" {
		return nil, nil
	}
	return s.cli.Peers(ctx, instance)
}
