package entity

import (
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/codec"
)

// Id：这是一个 32 位无符号整数，用于唯一标识 P4 对象。所有 P4 对象的 ID 共享同一个编号空间，这意味着表的 ID 不能与计数器的 ID 重叠。
// ID 为 0 是保留的，表示无效 ID。
// Name：P4 对象的全限定名称，例如 Ingress.ipv4_lpm。用户也可以只写名称的后缀（ipv4_lpm），只要后缀唯一。

// Kind 是可以通过名称解析的资源种类
type Kind int

const (
	KindTable Kind = iota
	KindKey
	KindAction
	KindParam
	KindCounter
	KindDirectCounter
	KindRegister
	KindDigest
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindKey:
		return "key"
	case KindAction:
		return "action"
	case KindParam:
		return "action parameter"
	case KindCounter:
		return "counter"
	case KindDirectCounter:
		return "direct counter"
	case KindRegister:
		return "register"
	case KindDigest:
		return "digest"
	}
	return "unknown"
}

// Entity 是P4 Runtime中的一个抽象概念，它代表交换机中的具体资源，如表项、计数器、寄存器、Digest等。
// 控制器通过与 Entity 交互来配置和管理这些资源。
// Entity 是控制器通过P4 Runtime与交换机进行交互的核心对象，它可以用于以下操作：
//
//	插入：通过 INSERT 操作向交换机添加新的实体条目。
//	修改：通过 MODIFY 操作更改现有的实体条目。
//	删除：通过 DELETE 操作删除交换机中的某个实体条目。
//	读取：通过 READ 操作获取交换机中的实体条目信息。
type Entity interface {
	Type() string
	GetID() uint32
	GetName() string
}

// Field 是一个带名称的值，用于匹配键和动作参数
type Field struct {
	Name  string
	Value interface{}
}

// ParamValue 是已经编码的动作参数
type ParamValue struct {
	ID    uint32
	Value []byte
}

// MatchField 描述表的一个匹配键
type MatchField struct {
	ID       uint32
	Name     string
	Bitwidth int
	Match    codec.MatchKind
}

// Spec 返回编码匹配值时使用的描述
func (m *MatchField) Spec() codec.MatchSpec {
	return codec.MatchSpec{ID: m.ID, Name: m.Name, Bitwidth: m.Bitwidth, Kind: m.Match}
}

// Param 描述动作的一个参数
type Param struct {
	ID       uint32
	Name     string
	Bitwidth int
}

type Action struct {
	ID     uint32
	Name   string
	Params []*Param

	params *suffixIndex
	byName map[string]*Param
}

func (a *Action) GetID() uint32 {
	return a.ID
}

func (a *Action) GetName() string {
	return a.Name
}

func (a *Action) Type() string {
	return "ACTION"
}

// Call 把已编码的参数包装成 v1.Action
func (a *Action) Call(params []ParamValue) *v1.Action {
	action := &v1.Action{ActionId: a.ID}
	for _, p := range params {
		action.Params = append(action.Params, &v1.Action_Param{ParamId: p.ID, Value: p.Value})
	}
	return action
}

// Counter stores all the information we need about an indirect counter
type Counter struct {
	ID   uint32
	Name string
	Size int64
	Unit configv1.CounterSpec_Unit
}

// ReadValueWithIndex 用于读取特定索引处的计数器值
func (c *Counter) ReadValueWithIndex(index int64) *v1.Entity {
	return counterEntity(&v1.CounterEntry{
		CounterId: c.ID,
		Index:     &v1.Index{Index: index},
	})
}

// ReadValue 读取所有索引处的计数器值
func (c *Counter) ReadValue() *v1.Entity {
	return counterEntity(&v1.CounterEntry{CounterId: c.ID})
}

// WriteValue 把指定索引处的计数器设置为给定值，清零时两个值都传 0
func (c *Counter) WriteValue(index int64, byteCount, packetCount int64) *v1.Update {
	return &v1.Update{
		Type: v1.Update_MODIFY,
		Entity: counterEntity(&v1.CounterEntry{
			CounterId: c.ID,
			Index:     &v1.Index{Index: index},
			Data:      &v1.CounterData{ByteCount: byteCount, PacketCount: packetCount},
		}),
	}
}

func (c *Counter) Type() string {
	return "COUNTER"
}

func (c *Counter) GetID() uint32 {
	return c.ID
}

func (c *Counter) GetName() string {
	return c.Name
}

func counterEntity(entry *v1.CounterEntry) *v1.Entity {
	return &v1.Entity{Entity: &v1.Entity_CounterEntry{CounterEntry: entry}}
}

// DirectCounter 是绑定在某张表上的计数器，每个表项一个值
type DirectCounter struct {
	ID      uint32
	Name    string
	TableID uint32
}

func (d *DirectCounter) Type() string {
	return "DIRECT_COUNTER"
}

func (d *DirectCounter) GetID() uint32 {
	return d.ID
}

func (d *DirectCounter) GetName() string {
	return d.Name
}

type Digest struct {
	ID   uint32
	Name string
}

// Insert 插入一条digest条目
func (d *Digest) Insert(entry *v1.DigestEntry) *v1.Update {
	return digestUpdate(v1.Update_INSERT, entry)
}

// Modify 修改一条digest条目
func (d *Digest) Modify(entry *v1.DigestEntry) *v1.Update {
	return digestUpdate(v1.Update_MODIFY, entry)
}

// Delete 删除一条digest条目
func (d *Digest) Delete() *v1.Update {
	return digestUpdate(v1.Update_DELETE, &v1.DigestEntry{DigestId: d.ID})
}

// Acknowledge 用于向P4 switch发送“digest确认”。
func (d *Digest) Acknowledge(digestList *v1.DigestList) *v1.StreamMessageRequest {
	return &v1.StreamMessageRequest{
		Update: &v1.StreamMessageRequest_DigestAck{DigestAck: &v1.DigestListAck{
			DigestId: d.ID,
			ListId:   digestList.ListId,
		}},
	}
}

func (d *Digest) Type() string {
	return "DIGEST"
}

func (d *Digest) GetID() uint32 {
	return d.ID
}

func (d *Digest) GetName() string {
	return d.Name
}

func digestUpdate(typ v1.Update_Type, entry *v1.DigestEntry) *v1.Update {
	return &v1.Update{
		Type:   typ,
		Entity: &v1.Entity{Entity: &v1.Entity_DigestEntry{DigestEntry: entry}},
	}
}
