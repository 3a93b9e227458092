package kvm

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultSSHPort = 22

// Runner executes shell commands on the hypervisor host.
type Runner interface {
	// Run executes command and returns its combined output. A non-zero exit
	// status is an error carrying the output.
	Run(ctx context.Context, command string) (string, error)

	Close() error
}

// sshRunner runs commands over one SSH connection, one session per command.
type sshRunner struct {
	client *ssh.Client
}

// dialSSH connects to the hypervisor host with password authentication.
func dialSSH(host, user, password string, port int, timeout time.Duration) (Runner, error) {
	if port == 0 {
		port = defaultSSHPort
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &sshRunner{client: client}, nil
}

func (r *sshRunner) Run(ctx context.Context, command string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := session.CombinedOutput(command)
		done <- result{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case res := <-done:
		output := strings.TrimRight(string(res.output), "\n")
		if res.err != nil {
			return output, fmt.Errorf("command %q failed: %w: %s", command, res.err, output)
		}
		return output, nil
	}
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
