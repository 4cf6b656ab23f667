package entity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	protov1 "github.com/golang/protobuf/proto"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"p4ctl/codec"
	"p4ctl/p4rtest"
	"p4ctl/util"
)

func exampleCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := FromP4Info(p4rtest.ExampleP4Info())
	if err != nil {
		t.Fatalf("FromP4Info: %v", err)
	}
	return c
}

func TestLoadFormats(t *testing.T) {
	info := p4rtest.ExampleP4Info()
	js, err := protojson.Marshal(protov1.MessageV2(info))
	if err != nil {
		t.Fatal(err)
	}
	txt, err := prototext.Marshal(protov1.MessageV2(info))
	if err != nil {
		t.Fatal(err)
	}
	bin, err := proto.Marshal(protov1.MessageV2(info))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		schema []byte
	}{
		{"json", js},
		{"json with leading space", append([]byte("\n  "), js...)},
		{"text", txt},
		{"binary", bin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(tt.schema)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if c.Program() != p4rtest.ExampleProgram {
				t.Errorf("Program() = %q", c.Program())
			}
			if len(c.Tables()) != 6 {
				t.Errorf("Tables() = %v", c.Tables())
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	txt, err := prototext.Marshal(protov1.MessageV2(p4rtest.ExampleP4Info()))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "p4info.txt")
	if err := os.WriteFile(path, txt, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestLoadMalformed(t *testing.T) {
	for name, schema := range map[string][]byte{
		"empty":     nil,
		"blank":     []byte("  \n"),
		"bad json":  []byte(`{"tables": [`),
		"not proto": {0xff, 0xff, 0xff},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(schema); !errors.Is(err, util.ErrSchemaMalformed) {
				t.Errorf("Load() error = %v", err)
			}
		})
	}
}

func TestFromP4InfoValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*configv1.P4Info)
	}{
		{"duplicate id", func(i *configv1.P4Info) {
			i.Counters[1].Preamble.Id = i.Counters[0].Preamble.Id
		}},
		{"missing name", func(i *configv1.P4Info) {
			i.Tables[0].Preamble.Name = ""
		}},
		{"param without width", func(i *configv1.P4Info) {
			i.Actions[0].Params[0].Bitwidth = 0
		}},
		{"match field without width", func(i *configv1.P4Info) {
			i.Tables[0].MatchFields[0].Bitwidth = 0
		}},
		{"unsupported match type", func(i *configv1.P4Info) {
			i.Tables[0].MatchFields[0].Match = &configv1.MatchField_OtherMatchType{OtherMatchType: "selector"}
		}},
		{"undeclared action", func(i *configv1.P4Info) {
			i.Tables[0].ActionRefs = append(i.Tables[0].ActionRefs, &configv1.ActionRef{Id: 16899999})
		}},
		{"table id used as action", func(i *configv1.P4Info) {
			i.Tables[1].ActionRefs = append(i.Tables[1].ActionRefs, &configv1.ActionRef{Id: p4rtest.TableFwd})
		}},
		{"undeclared direct table", func(i *configv1.P4Info) {
			i.DirectCounters[0].DirectTableId = 33559999
		}},
		{"register without type", func(i *configv1.P4Info) {
			i.Registers[0].TypeSpec = nil
		}},
		{"register with unknown struct", func(i *configv1.P4Info) {
			i.Registers[0].TypeSpec = &configv1.P4DataTypeSpec{TypeSpec: &configv1.P4DataTypeSpec_Struct{
				Struct: &configv1.P4NamedType{Name: "missing_t"}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := p4rtest.ExampleP4Info()
			tt.mutate(info)
			if _, err := FromP4Info(info); !errors.Is(err, util.ErrSchemaMalformed) {
				t.Errorf("FromP4Info() error = %v", err)
			}
		})
	}
}

func TestCatalogContents(t *testing.T) {
	c := exampleCatalog(t)

	fwd, err := c.Table("t_fwd")
	if err != nil {
		t.Fatal(err)
	}
	if fwd.ID != p4rtest.TableFwd || len(fwd.Keys) != 1 || fwd.Keys[0].Match != codec.MatchExact {
		t.Errorf("t_fwd = %+v", fwd)
	}
	if fwd.NeedsPriority() {
		t.Error("exact table needs no priority")
	}
	acl, _ := c.Table("t_acl")
	if !acl.NeedsPriority() {
		t.Error("ternary table needs a priority")
	}
	if cnst, _ := c.Table("t_const"); !cnst.IsConst || cnst.ConstDefaultActionID != p4rtest.ActionNoAction {
		t.Errorf("t_const = %+v", cnst)
	}

	if dc, ok := c.DirectCounterOf(fwd); !ok || dc.ID != p4rtest.DirectCounterFwd {
		t.Errorf("DirectCounterOf(t_fwd) = %v, %v", dc, ok)
	}
	if _, ok := c.DirectCounterOf(acl); ok {
		t.Error("t_acl has no direct counter")
	}
	if tbl, ok := c.TableByID(p4rtest.TableLPM); !ok || tbl.Name != "Ingress.t_lpm" {
		t.Errorf("TableByID = %v, %v", tbl, ok)
	}
	if _, ok := c.TableByID(p4rtest.ActionSend); ok {
		t.Error("action id resolved as a table")
	}
	if got := c.NameOf(p4rtest.CounterStats); got != "Ingress.c_stats" {
		t.Errorf("NameOf = %q", got)
	}

	pair, err := c.Register("r_pair")
	if err != nil {
		t.Fatal(err)
	}
	if !pair.Composite || pair.IsStruct || len(pair.Members) != 2 || pair.Bitwidth() != 32 {
		t.Errorf("r_pair = %+v", pair)
	}
	if got := c.Counters(); len(got) != 2 || got[0] != "Ingress.c_drops" {
		t.Errorf("Counters() = %v", got)
	}
}
