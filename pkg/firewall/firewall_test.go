package firewall

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNoopBlockerLifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewNoopBlocker()

	if blocked, err := b.IsBlocked(ctx, "1.2.3.4"); err != nil || blocked {
		t.Fatalf("expected not blocked initially, got blocked=%v err=%v", blocked, err)
	}

	if err := b.Block(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blocked, err := b.IsBlocked(ctx, "1.2.3.4"); err != nil || !blocked {
		t.Fatalf("expected blocked after Block, got blocked=%v err=%v", blocked, err)
	}

	if err := b.Unblock(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if blocked, err := b.IsBlocked(ctx, "1.2.3.4"); err != nil || blocked {
		t.Fatalf("expected not blocked after Unblock, got blocked=%v err=%v", blocked, err)
	}
}

func TestNoopBlockerUnblockAbsentIsNoop(t *testing.T) {
	b := NewNoopBlocker()
	if err := b.Unblock(context.Background(), "9.9.9.9"); err != nil {
		t.Fatalf("expected no error unblocking an absent IP, got %v", err)
	}
}

func fakeRunner(responses map[string][]byte, errs map[string]error) func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		key := strings.Join(args, " ")
		for pattern, out := range responses {
			if strings.Contains(key, pattern) {
				return out, errs[pattern]
			}
		}
		return nil, nil
	}
}

func TestIPTablesBlockerBlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := &IPTablesBlocker{}

	calls := 0
	listOutput := []byte("Chain INPUT (policy ACCEPT)\n")
	b.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		key := strings.Join(args, " ")
		if strings.HasPrefix(key, "-L") {
			return listOutput, nil
		}
		if strings.HasPrefix(key, "-A") {
			listOutput = []byte("DROP  all  --  10.0.0.5  0.0.0.0/0  /* hidsd */\n")
			return nil, nil
		}
		return nil, nil
	}

	if err := b.Block(ctx, "10.0.0.5"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := b.Block(ctx, "10.0.0.5"); err != nil {
		t.Fatalf("second Block: %v", err)
	}

	blocked, err := b.IsBlocked(ctx, "10.0.0.5")
	if err != nil || !blocked {
		t.Fatalf("expected blocked, got blocked=%v err=%v", blocked, err)
	}
}

func TestIPTablesBlockerUnblockWhenAbsentDoesNotShell(t *testing.T) {
	ctx := context.Background()
	b := &IPTablesBlocker{}
	b.run = fakeRunner(map[string][]byte{
		"-L INPUT -n": []byte("Chain INPUT (policy ACCEPT)\n"),
	}, nil)

	var deleteCalled bool
	base := b.run
	b.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if strings.HasPrefix(strings.Join(args, " "), "-D") {
			deleteCalled = true
		}
		return base(ctx, name, args...)
	}

	if err := b.Unblock(ctx, "10.0.0.6"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if deleteCalled {
		t.Error("expected no -D invocation for an IP that was never blocked")
	}
}

func TestIPTablesBlockerListErrorPropagates(t *testing.T) {
	ctx := context.Background()
	b := &IPTablesBlocker{}
	wantErr := errors.New("iptables: command not found")
	b.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("boom"), wantErr
	}

	if _, err := b.IsBlocked(ctx, "10.0.0.7"); err == nil {
		t.Fatal("expected an error to propagate from the underlying command")
	}
}
