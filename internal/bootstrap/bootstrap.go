// Package bootstrap drives startup actions on a freshly launched VM over
// SSH, retrying until the guest finishes booting or attempts are exhausted.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/jbweber/bellows/internal/cloudinit"
)

// ErrExhausted is returned when every bootstrap attempt failed. Callers
// treat this as a warning; the VM keeps running and the operator can run
// the action by hand.
var ErrExhausted = errors.New("bootstrap attempts exhausted")

// Driver retries remote execution of the startup-action dispatcher against
// a booting VM. Zero values get defaults from New; the fields are exposed so
// tests can shrink the retry window.
type Driver struct {
	// InitialDelay is the boot grace period before the first attempt.
	InitialDelay time.Duration

	// Attempts bounds the number of connection attempts.
	Attempts int

	// AttemptTimeout bounds each connection attempt.
	AttemptTimeout time.Duration

	// RetryDelay is the pause between failed attempts.
	RetryDelay time.Duration
}

// New returns a Driver with production retry timings. Total wall clock is
// bounded by InitialDelay + Attempts x (AttemptTimeout + RetryDelay).
func New() *Driver {
	return &Driver{
		InitialDelay:   20 * time.Second,
		Attempts:       10,
		AttemptTimeout: 5 * time.Second,
		RetryDelay:     6 * time.Second,
	}
}

// Run invokes the dispatcher with action on the VM reachable through the
// forwarded SSH port. It stops on the first success; after exhausting all
// attempts it returns ErrExhausted.
func (d *Driver) Run(ctx context.Context, port int, action string) error {
	log.Info().Str("action", action).Int("port", port).
		Dur("initial_delay", d.InitialDelay).
		Msg("waiting for guest to boot before running startup action")

	if err := sleepCtx(ctx, d.InitialDelay); err != nil {
		return err
	}

	command := fmt.Sprintf("%s %s", cloudinit.DispatcherPath, action)
	var lastErr error
	for attempt := 1; attempt <= d.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.exec(port, command)
		if err == nil {
			log.Info().Str("action", action).Int("attempt", attempt).
				Msg("startup action completed")
			return nil
		}
		lastErr = err
		log.Info().Err(err).Int("attempt", attempt).Int("max_attempts", d.Attempts).
			Msg("bootstrap attempt failed")

		if attempt < d.Attempts {
			if err := sleepCtx(ctx, d.RetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, d.Attempts, lastErr)
}

// Exec runs a single arbitrary command on the VM without retrying. Used by
// on-demand action invocation against an already-running guest.
func (d *Driver) Exec(port int, command string) ([]byte, error) {
	return d.execOutput(port, command)
}

func (d *Driver) exec(port int, command string) error {
	_, err := d.execOutput(port, command)
	return err
}

func (d *Driver) execOutput(port int, command string) ([]byte, error) {
	cfg := &ssh.ClientConfig{
		User: cloudinit.GuestUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(cloudinit.GuestPassword),
		},
		// The guest is a local throwaway VM with a generated host key.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.AttemptTimeout,
	}

	// The config Timeout only bounds TCP establishment. A booting guest can
	// accept the connection and then stall before the SSH banner, so put a
	// deadline on the raw connection for the handshake as well; the attempt
	// bound must hold for every failure shape.
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, d.AttemptTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(d.AttemptTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline on %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	// The action itself may legitimately run longer than one attempt.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("clear deadline on %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(command)
	if err != nil {
		return output, fmt.Errorf("run %q: %w", command, err)
	}
	return output, nil
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
