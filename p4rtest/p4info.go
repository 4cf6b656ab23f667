package p4rtest

import (
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
)

// IDs used by ExampleP4Info.
const (
	ActionSend           uint32 = 16800001
	ActionDrop           uint32 = 16800002
	ActionNoAction       uint32 = 16800003
	ActionSetNhop        uint32 = 16800004
	ActionIngressRewrite uint32 = 16800005
	ActionEgressRewrite  uint32 = 16800006

	TableFwd            uint32 = 33554433
	TableACL            uint32 = 33554434
	TableLPM            uint32 = 33554435
	TableIngressRewrite uint32 = 33554436
	TableEgressRewrite  uint32 = 33554437
	TableConst          uint32 = 33554438

	CounterStats uint32 = 302000001
	CounterDrops uint32 = 302000002

	DirectCounterFwd uint32 = 318767105

	RegisterLastSeen uint32 = 369098753
	RegisterPair     uint32 = 369098754

	DigestLearn uint32 = 385875969
)

// ExampleProgram is the pkg_info name of ExampleP4Info.
const ExampleProgram = "basic_fwd"

// ExampleP4Info returns a small forwarding program: an exact port table, a
// ternary/range ACL, an LPM route table, two tables that share the short name
// "t_rewrite", a const table, counters, registers and a learn digest.
func ExampleP4Info() *configv1.P4Info {
	exact := func(id uint32, name string, width int32) *configv1.MatchField {
		return &configv1.MatchField{Id: id, Name: name, Bitwidth: width,
			Match: &configv1.MatchField_MatchType_{MatchType: configv1.MatchField_EXACT}}
	}
	refs := func(ids ...uint32) []*configv1.ActionRef {
		var out []*configv1.ActionRef
		for _, id := range ids {
			out = append(out, &configv1.ActionRef{Id: id})
		}
		return out
	}
	bit := func(w int32) *configv1.P4DataTypeSpec {
		return &configv1.P4DataTypeSpec{TypeSpec: &configv1.P4DataTypeSpec_Bitstring{
			Bitstring: &configv1.P4BitstringLikeTypeSpec{TypeSpec: &configv1.P4BitstringLikeTypeSpec_Bit{
				Bit: &configv1.P4BitTypeSpec{Bitwidth: w}}}}}
	}

	return &configv1.P4Info{
		PkgInfo: &configv1.PkgInfo{Name: ExampleProgram, Arch: "v1model"},
		Actions: []*configv1.Action{
			{Preamble: &configv1.Preamble{Id: ActionSend, Name: "Ingress.send", Alias: "send"},
				Params: []*configv1.Action_Param{{Id: 1, Name: "egress_port", Bitwidth: 9}}},
			{Preamble: &configv1.Preamble{Id: ActionDrop, Name: "Ingress.drop", Alias: "drop"}},
			{Preamble: &configv1.Preamble{Id: ActionNoAction, Name: "NoAction", Alias: "NoAction"}},
			{Preamble: &configv1.Preamble{Id: ActionSetNhop, Name: "Ingress.set_nhop", Alias: "set_nhop"},
				Params: []*configv1.Action_Param{
					{Id: 1, Name: "dst_mac", Bitwidth: 48},
					{Id: 2, Name: "port", Bitwidth: 9},
				}},
			{Preamble: &configv1.Preamble{Id: ActionIngressRewrite, Name: "Ingress.rewrite_mac"},
				Params: []*configv1.Action_Param{{Id: 1, Name: "src_mac", Bitwidth: 48}}},
			{Preamble: &configv1.Preamble{Id: ActionEgressRewrite, Name: "Egress.rewrite_mac"},
				Params: []*configv1.Action_Param{{Id: 1, Name: "src_mac", Bitwidth: 48}}},
		},
		Tables: []*configv1.Table{
			{
				Preamble:    &configv1.Preamble{Id: TableFwd, Name: "Ingress.t_fwd", Alias: "t_fwd"},
				MatchFields: []*configv1.MatchField{exact(1, "standard_metadata.ingress_port", 9)},
				ActionRefs:  refs(ActionSend, ActionDrop, ActionNoAction),
				Size:        1024,
			},
			{
				Preamble: &configv1.Preamble{Id: TableACL, Name: "Ingress.t_acl", Alias: "t_acl"},
				MatchFields: []*configv1.MatchField{
					{Id: 1, Name: "hdr.ipv4.dstAddr", Bitwidth: 32,
						Match: &configv1.MatchField_MatchType_{MatchType: configv1.MatchField_TERNARY}},
					{Id: 2, Name: "hdr.tcp.dstPort", Bitwidth: 16,
						Match: &configv1.MatchField_MatchType_{MatchType: configv1.MatchField_RANGE}},
				},
				ActionRefs: refs(ActionDrop, ActionNoAction),
				Size:       256,
			},
			{
				Preamble: &configv1.Preamble{Id: TableLPM, Name: "Ingress.t_lpm", Alias: "t_lpm"},
				MatchFields: []*configv1.MatchField{
					{Id: 1, Name: "hdr.ipv4.dstAddr", Bitwidth: 32,
						Match: &configv1.MatchField_MatchType_{MatchType: configv1.MatchField_LPM}},
				},
				ActionRefs: refs(ActionSetNhop, ActionDrop),
				Size:       1024,
			},
			{
				Preamble:    &configv1.Preamble{Id: TableIngressRewrite, Name: "Ingress.t_rewrite"},
				MatchFields: []*configv1.MatchField{exact(1, "standard_metadata.egress_port", 9)},
				ActionRefs:  refs(ActionIngressRewrite, ActionNoAction),
				Size:        64,
			},
			{
				Preamble:    &configv1.Preamble{Id: TableEgressRewrite, Name: "Egress.t_rewrite"},
				MatchFields: []*configv1.MatchField{exact(1, "standard_metadata.egress_port", 9)},
				ActionRefs:  refs(ActionEgressRewrite, ActionNoAction),
				Size:        64,
			},
			{
				Preamble:             &configv1.Preamble{Id: TableConst, Name: "Ingress.t_const", Alias: "t_const"},
				MatchFields:          []*configv1.MatchField{exact(1, "hdr.ethernet.etherType", 16)},
				ActionRefs:           refs(ActionNoAction),
				ConstDefaultActionId: ActionNoAction,
				IsConstTable:         true,
				Size:                 4,
			},
		},
		Counters: []*configv1.Counter{
			{Preamble: &configv1.Preamble{Id: CounterStats, Name: "Ingress.c_stats", Alias: "c_stats"},
				Spec: &configv1.CounterSpec{Unit: configv1.CounterSpec_BOTH}, Size: 512},
			{Preamble: &configv1.Preamble{Id: CounterDrops, Name: "Ingress.c_drops", Alias: "c_drops"},
				Spec: &configv1.CounterSpec{Unit: configv1.CounterSpec_PACKETS}, Size: 8},
		},
		DirectCounters: []*configv1.DirectCounter{
			{Preamble: &configv1.Preamble{Id: DirectCounterFwd, Name: "Ingress.t_fwd_counter"},
				Spec: &configv1.CounterSpec{Unit: configv1.CounterSpec_BOTH}, DirectTableId: TableFwd},
		},
		Registers: []*configv1.Register{
			{Preamble: &configv1.Preamble{Id: RegisterLastSeen, Name: "Ingress.r_last_seen", Alias: "r_last_seen"},
				TypeSpec: bit(32), Size: 16},
			{Preamble: &configv1.Preamble{Id: RegisterPair, Name: "Ingress.r_pair", Alias: "r_pair"},
				TypeSpec: &configv1.P4DataTypeSpec{TypeSpec: &configv1.P4DataTypeSpec_Tuple{
					Tuple: &configv1.P4TupleTypeSpec{Members: []*configv1.P4DataTypeSpec{bit(32), bit(32)}}}},
				Size: 4},
		},
		Digests: []*configv1.Digest{
			{Preamble: &configv1.Preamble{Id: DigestLearn, Name: "Ingress.learn", Alias: "learn"},
				TypeSpec: &configv1.P4DataTypeSpec{TypeSpec: &configv1.P4DataTypeSpec_Struct{
					Struct: &configv1.P4NamedType{Name: "learn_t"}}}},
		},
	}
}
