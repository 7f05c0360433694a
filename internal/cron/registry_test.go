package cron

import (
	"context"
	"reflect"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestRegistryKeepsRunOrder(t *testing.T) {
	expiration := &stubJob{name: "points-expiration"}
	evaluation := &stubJob{name: "tier-evaluation"}
	registry := mustRegistry(t, expiration, nil, evaluation)

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != expiration || jobs[1] != evaluation {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"points-expiration", "tier-evaluation"}) {
		t.Fatalf("unexpected names %v", got)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	if _, err := NewRegistry(&stubJob{name: "usage-reconcile"}, &stubJob{name: "usage-reconcile"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	registry := mustRegistry(t)
	if err := registry.Register(&stubJob{}); err == nil {
		t.Fatal("expected error for unnamed job")
	}
	if len(registry.Jobs()) != 0 {
		t.Fatal("rejected job must not be registered")
	}
}
