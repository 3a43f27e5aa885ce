package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
)

func TestPortChecker_OpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	chk := NewPortChecker(time.Second)
	out := chk.Check(context.Background(), domain.Target{
		URL:       "tcp://" + ln.Addr().String(),
		ProbeType: domain.ProbePort,
	})
	if !out.OK() {
		t.Fatalf("want ok, got %+v", out)
	}
	if out.HTTPStatus != 0 {
		t.Fatalf("tcp probe has no http status: %+v", out)
	}
}

func TestPortChecker_ClosedPort(t *testing.T) {
	chk := NewPortChecker(time.Second)
	out := chk.Check(context.Background(), domain.Target{
		URL:       "tcp://127.0.0.1:1",
		ProbeType: domain.ProbePort,
	})
	if out.OK() || out.ErrorText == "" {
		t.Fatalf("want connection error, got %+v", out)
	}
}

func TestProber_DispatchesOnProbeType(t *testing.T) {
	p := NewProber(time.Second, time.Second)
	out := p.Check(context.Background(), domain.Target{URL: "http://x", ProbeType: "smtp"})
	if out.OK() || out.ErrorText == "" {
		t.Fatalf("unknown probe type must be an error result: %+v", out)
	}
}
