package entity

import (
	"bytes"
	"fmt"
	"os"

	protov1 "github.com/golang/protobuf/proto"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"p4ctl/codec"
	"p4ctl/util"
)

// Catalog 是从 P4Info 构建的只读资源表。构建完成后不再修改，可以在多个 goroutine 间共享。
type Catalog struct {
	info    *configv1.P4Info
	program string

	tables         map[string]*Table
	actions        map[string]*Action
	counters       map[string]*Counter
	directCounters map[string]*DirectCounter
	registers      map[string]*Register
	digests        map[string]*Digest

	names map[uint32]string
	index map[Kind]*suffixIndex
}

// ResourceRef 是一次名称解析的结果
type ResourceRef struct {
	Kind      Kind
	Requested string
	Resolved  string
	ID        uint32
	Bitwidth  int
}

// ParseP4Info 解析 P4Info，支持 JSON、protobuf 文本和二进制三种格式
func ParseP4Info(schema []byte) (*configv1.P4Info, error) {
	trimmed := bytes.TrimSpace(schema)
	if len(trimmed) == 0 {
		return nil, util.NewSchemaError("", "empty schema artifact")
	}

	info := &configv1.P4Info{}
	if trimmed[0] == '{' {
		if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(trimmed, protov1.MessageV2(info)); err != nil {
			return nil, util.NewSchemaError("", "json: %v", err)
		}
		return info, nil
	}

	textErr := prototext.Unmarshal(schema, protov1.MessageV2(info))
	if textErr == nil {
		return info, nil
	}
	info.Reset()
	if err := proto.Unmarshal(schema, protov1.MessageV2(info)); err != nil {
		return nil, util.NewSchemaError("", "neither text (%v) nor binary (%v) P4Info", textErr, err)
	}
	return info, nil
}

// Load 解析 schema 并构建 Catalog
func Load(schema []byte) (*Catalog, error) {
	info, err := ParseP4Info(schema)
	if err != nil {
		return nil, err
	}
	return FromP4Info(info)
}

// LoadFile 从文件读取 P4Info 并构建 Catalog
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	return Load(b)
}

// FromP4Info 校验 P4Info 并构建 Catalog
func FromP4Info(info *configv1.P4Info) (*Catalog, error) {
	c := &Catalog{
		info:           info,
		program:        info.GetPkgInfo().GetName(),
		tables:         make(map[string]*Table),
		actions:        make(map[string]*Action),
		counters:       make(map[string]*Counter),
		directCounters: make(map[string]*DirectCounter),
		registers:      make(map[string]*Register),
		digests:        make(map[string]*Digest),
		names:          make(map[uint32]string),
		index:          make(map[Kind]*suffixIndex),
	}
	for _, k := range []Kind{KindTable, KindAction, KindCounter, KindDirectCounter, KindRegister, KindDigest} {
		c.index[k] = newSuffixIndex()
	}

	for _, a := range info.GetActions() {
		action, err := newAction(a)
		if err != nil {
			return nil, err
		}
		if err := c.register(KindAction, action.ID, action.Name); err != nil {
			return nil, err
		}
		c.actions[action.Name] = action
	}

	for _, t := range info.GetTables() {
		table, err := c.newTable(t)
		if err != nil {
			return nil, err
		}
		if err := c.register(KindTable, table.ID, table.Name); err != nil {
			return nil, err
		}
		c.tables[table.Name] = table
	}

	for _, ctr := range info.GetCounters() {
		counter := &Counter{
			ID:   ctr.GetPreamble().GetId(),
			Name: ctr.GetPreamble().GetName(),
			Size: ctr.GetSize(),
			Unit: ctr.GetSpec().GetUnit(),
		}
		if err := c.register(KindCounter, counter.ID, counter.Name); err != nil {
			return nil, err
		}
		c.counters[counter.Name] = counter
	}

	for _, dc := range info.GetDirectCounters() {
		direct := &DirectCounter{
			ID:      dc.GetPreamble().GetId(),
			Name:    dc.GetPreamble().GetName(),
			TableID: dc.GetDirectTableId(),
		}
		if _, ok := c.names[direct.TableID]; !ok {
			return nil, util.NewSchemaError(direct.Name, "direct table %d not declared", direct.TableID)
		}
		if err := c.register(KindDirectCounter, direct.ID, direct.Name); err != nil {
			return nil, err
		}
		c.directCounters[direct.Name] = direct
	}

	for _, r := range info.GetRegisters() {
		reg, err := c.newRegister(r)
		if err != nil {
			return nil, err
		}
		if err := c.register(KindRegister, reg.ID, reg.Name); err != nil {
			return nil, err
		}
		c.registers[reg.Name] = reg
	}

	for _, d := range info.GetDigests() {
		digest := &Digest{ID: d.GetPreamble().GetId(), Name: d.GetPreamble().GetName()}
		if err := c.register(KindDigest, digest.ID, digest.Name); err != nil {
			return nil, err
		}
		c.digests[digest.Name] = digest
	}

	return c, nil
}

func (c *Catalog) register(kind Kind, id uint32, name string) error {
	if id == 0 || name == "" {
		return util.NewSchemaError(name, "%s without id or name", kind)
	}
	if prev, ok := c.names[id]; ok {
		return util.NewSchemaError(name, "id %d already used by %s", id, prev)
	}
	c.names[id] = name
	c.index[kind].add(name, id)
	return nil
}

func newAction(a *configv1.Action) (*Action, error) {
	action := &Action{
		ID:     a.GetPreamble().GetId(),
		Name:   a.GetPreamble().GetName(),
		params: newSuffixIndex(),
		byName: make(map[string]*Param),
	}
	seen := make(map[uint32]bool)
	for _, p := range a.GetParams() {
		if p.GetBitwidth() == 0 && p.GetTypeName() == nil {
			return nil, util.NewSchemaError(action.Name, "parameter %s has neither bitwidth nor type", p.GetName())
		}
		if seen[p.GetId()] || action.byName[p.GetName()] != nil {
			return nil, util.NewSchemaError(action.Name, "duplicate parameter %s (id %d)", p.GetName(), p.GetId())
		}
		seen[p.GetId()] = true
		param := &Param{ID: p.GetId(), Name: p.GetName(), Bitwidth: int(p.GetBitwidth())}
		action.Params = append(action.Params, param)
		action.byName[param.Name] = param
		action.params.add(param.Name, param.ID)
	}
	return action, nil
}

func (c *Catalog) newTable(t *configv1.Table) (*Table, error) {
	table := &Table{
		ID:                   t.GetPreamble().GetId(),
		Name:                 t.GetPreamble().GetName(),
		Size:                 t.GetSize(),
		ConstDefaultActionID: t.GetConstDefaultActionId(),
		IsConst:              t.GetIsConstTable(),
		keys:                 newSuffixIndex(),
		byName:               make(map[string]*MatchField),
	}

	seen := make(map[uint32]bool)
	for _, mf := range t.GetMatchFields() {
		if mf.GetBitwidth() == 0 && mf.GetTypeName() == nil {
			return nil, util.NewSchemaError(table.Name, "match field %s has neither bitwidth nor type", mf.GetName())
		}
		kind, err := matchKind(mf)
		if err != nil {
			return nil, util.NewSchemaError(table.Name, "match field %s: %v", mf.GetName(), err)
		}
		if seen[mf.GetId()] || table.byName[mf.GetName()] != nil {
			return nil, util.NewSchemaError(table.Name, "duplicate match field %s (id %d)", mf.GetName(), mf.GetId())
		}
		seen[mf.GetId()] = true
		key := &MatchField{ID: mf.GetId(), Name: mf.GetName(), Bitwidth: int(mf.GetBitwidth()), Match: kind}
		table.Keys = append(table.Keys, key)
		table.byName[key.Name] = key
		table.keys.add(key.Name, key.ID)
	}

	for _, ref := range t.GetActionRefs() {
		if _, ok := c.names[ref.GetId()]; !ok || c.actionByID(ref.GetId()) == nil {
			return nil, util.NewSchemaError(table.Name, "action %d not declared", ref.GetId())
		}
		table.ActionIDs = append(table.ActionIDs, ref.GetId())
	}
	if id := table.ConstDefaultActionID; id != 0 && c.actionByID(id) == nil {
		return nil, util.NewSchemaError(table.Name, "const default action %d not declared", id)
	}
	return table, nil
}

func matchKind(mf *configv1.MatchField) (codec.MatchKind, error) {
	if other := mf.GetOtherMatchType(); other != "" {
		if other == "valid" {
			return codec.MatchValid, nil
		}
		return 0, fmt.Errorf("unsupported match type %q", other)
	}
	switch mf.GetMatchType() {
	case configv1.MatchField_EXACT:
		return codec.MatchExact, nil
	case configv1.MatchField_LPM:
		return codec.MatchLPM, nil
	case configv1.MatchField_TERNARY:
		return codec.MatchTernary, nil
	case configv1.MatchField_RANGE:
		return codec.MatchRange, nil
	case configv1.MatchField_OPTIONAL:
		return codec.MatchOptional, nil
	}
	return 0, fmt.Errorf("unsupported match type %s", mf.GetMatchType())
}

func (c *Catalog) newRegister(r *configv1.Register) (*Register, error) {
	reg := &Register{
		ID:   r.GetPreamble().GetId(),
		Name: r.GetPreamble().GetName(),
		Size: int64(r.GetSize()),
	}
	spec := r.GetTypeSpec()
	if spec == nil {
		return nil, util.NewSchemaError(reg.Name, "register has no data type")
	}

	var members []*configv1.P4DataTypeSpec
	var names []string
	switch {
	case spec.GetTuple() != nil:
		reg.Composite = true
		members = spec.GetTuple().GetMembers()
		names = make([]string, len(members))
	case spec.GetStruct() != nil:
		reg.Composite = true
		reg.IsStruct = true
		st := c.info.GetTypeInfo().GetStructs()[spec.GetStruct().GetName()]
		if st == nil {
			return nil, util.NewSchemaError(reg.Name, "struct %s not declared", spec.GetStruct().GetName())
		}
		for _, m := range st.GetMembers() {
			members = append(members, m.GetTypeSpec())
			names = append(names, m.GetName())
		}
	default:
		members = []*configv1.P4DataTypeSpec{spec}
		names = []string{""}
	}

	for i, m := range members {
		member, err := registerMember(m)
		if err != nil {
			return nil, util.NewSchemaError(reg.Name, "member %d: %v", i, err)
		}
		member.Name = names[i]
		reg.Members = append(reg.Members, member)
	}
	if len(reg.Members) == 0 {
		return nil, util.NewSchemaError(reg.Name, "register data type has no members")
	}
	return reg, nil
}

func registerMember(spec *configv1.P4DataTypeSpec) (RegisterMember, error) {
	if spec.GetBool() != nil {
		return RegisterMember{Bitwidth: 1, Bool: true}, nil
	}
	bs := spec.GetBitstring()
	switch {
	case bs.GetBit() != nil:
		return RegisterMember{Bitwidth: int(bs.GetBit().GetBitwidth())}, nil
	case bs.GetInt() != nil:
		return RegisterMember{Bitwidth: int(bs.GetInt().GetBitwidth())}, nil
	case bs.GetVarbit() != nil:
		return RegisterMember{Bitwidth: int(bs.GetVarbit().GetMaxBitwidth())}, nil
	}
	return RegisterMember{}, fmt.Errorf("unsupported data type %v", spec)
}

func (c *Catalog) actionByID(id uint32) *Action {
	if a, ok := c.actions[c.names[id]]; ok && a.ID == id {
		return a
	}
	return nil
}

// Program 返回 P4Info 中的程序名称
func (c *Catalog) Program() string {
	return c.program
}

// P4Info 返回构建 Catalog 使用的 P4Info
func (c *Catalog) P4Info() *configv1.P4Info {
	return c.info
}

// NameOf 返回 ID 对应的全限定名称
func (c *Catalog) NameOf(id uint32) string {
	return c.names[id]
}

func (c *Catalog) Tables() []string    { return c.index[KindTable].sorted() }
func (c *Catalog) Actions() []string   { return c.index[KindAction].sorted() }
func (c *Catalog) Counters() []string  { return c.index[KindCounter].sorted() }
func (c *Catalog) Registers() []string { return c.index[KindRegister].sorted() }
func (c *Catalog) Digests() []string   { return c.index[KindDigest].sorted() }
