package entity

import (
	"errors"
	"testing"

	"p4ctl/p4rtest"
	"p4ctl/util"
)

func TestResolve(t *testing.T) {
	c := exampleCatalog(t)
	tests := []struct {
		name     string
		kind     Kind
		input    string
		scope    string
		resolved string
		bitwidth int
		wantErr  error
	}{
		{name: "full table name", kind: KindTable, input: "Ingress.t_fwd", resolved: "Ingress.t_fwd"},
		{name: "table suffix", kind: KindTable, input: "t_fwd", resolved: "Ingress.t_fwd"},
		{name: "ambiguous table", kind: KindTable, input: "t_rewrite", wantErr: util.ErrNotFound},
		{name: "unknown table", kind: KindTable, input: "t_nope", wantErr: util.ErrNotFound},
		{name: "partial segment", kind: KindTable, input: "fwd", wantErr: util.ErrNotFound},
		{name: "key suffix", kind: KindKey, input: "ingress_port", scope: "t_fwd",
			resolved: "standard_metadata.ingress_port", bitwidth: 9},
		{name: "key of another table", kind: KindKey, input: "dstAddr", scope: "t_fwd", wantErr: util.ErrNotFound},
		{name: "key in ambiguous table", kind: KindKey, input: "egress_port", scope: "t_rewrite", wantErr: util.ErrNotFound},
		{name: "key in qualified table", kind: KindKey, input: "egress_port", scope: "Egress.t_rewrite",
			resolved: "standard_metadata.egress_port", bitwidth: 9},
		{name: "action suffix", kind: KindAction, input: "send", resolved: "Ingress.send"},
		{name: "action permitted", kind: KindAction, input: "drop", scope: "t_acl", resolved: "Ingress.drop"},
		{name: "action not permitted", kind: KindAction, input: "send", scope: "t_acl", wantErr: util.ErrNotFound},
		{name: "ambiguous action", kind: KindAction, input: "rewrite_mac", wantErr: util.ErrNotFound},
		{name: "param", kind: KindParam, input: "port", scope: "set_nhop", resolved: "port", bitwidth: 9},
		{name: "param of unknown action", kind: KindParam, input: "port", scope: "nope", wantErr: util.ErrNotFound},
		{name: "register width", kind: KindRegister, input: "r_last_seen", resolved: "Ingress.r_last_seen", bitwidth: 32},
		{name: "digest", kind: KindDigest, input: "learn", resolved: "Ingress.learn"},
		{name: "direct counter", kind: KindDirectCounter, input: "t_fwd_counter", resolved: "Ingress.t_fwd_counter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := c.Resolve(tt.kind, tt.input, tt.scope)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if ref.Resolved != tt.resolved || ref.Requested != tt.input {
				t.Errorf("ref = %+v, want %s", ref, tt.resolved)
			}
			if tt.bitwidth != 0 && ref.Bitwidth != tt.bitwidth {
				t.Errorf("Bitwidth = %d, want %d", ref.Bitwidth, tt.bitwidth)
			}
		})
	}
}

func TestLookupRequiresFullName(t *testing.T) {
	c := exampleCatalog(t)
	if _, err := c.Lookup(KindTable, "t_fwd", ""); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Lookup accepted a suffix: %v", err)
	}
	ref, err := c.Lookup(KindTable, "Ingress.t_fwd", "")
	if err != nil || ref.ID != p4rtest.TableFwd {
		t.Errorf("Lookup = %+v, %v", ref, err)
	}
}

func TestNotFoundNamesScope(t *testing.T) {
	c := exampleCatalog(t)
	_, err := c.Resolve(KindKey, "vlan", "t_fwd")
	var nf *util.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
	if nf.Scope != "Ingress.t_fwd" || nf.Name != "vlan" {
		t.Errorf("NotFoundError = %+v", nf)
	}
}

func TestSuffixIndex(t *testing.T) {
	s := newSuffixIndex()
	s.add("a.b.c", 1)
	s.add("x.b.c", 2)
	s.add("y.d", 3)

	if _, _, ok := s.lookup("b.c"); ok {
		t.Error("shared suffix b.c resolved")
	}
	if _, _, ok := s.lookup("c"); ok {
		t.Error("shared suffix c resolved")
	}
	if full, id, ok := s.lookup("d"); !ok || full != "y.d" || id != 3 {
		t.Errorf("lookup(d) = %s %d %v", full, id, ok)
	}
	if full, _, ok := s.lookup("a.b.c"); !ok || full != "a.b.c" {
		t.Error("full name should always resolve")
	}
	if got := s.candidates("c"); len(got) != 2 || got[0] != "a.b.c" {
		t.Errorf("candidates(c) = %v", got)
	}

	s.add("z.b.c", 4)
	if got := s.candidates("b.c"); len(got) != 3 {
		t.Errorf("candidates(b.c) = %v", got)
	}
}
