package control

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/entity"
)

type ControlTable interface {
	Table(string) (TableControl, error)
	Digest(string) (DigestControl, error)
	Counter(string) (CounterControl, error)
	Register(string) (RegisterControl, error)
	Multicast() *MulticastControl
}

type Control interface {
	ControlTable
	IsMaster() bool
	SetMastershipStatus(bool)
	Run(ctx context.Context, clientID uint32) (uint32, error)
	Bind(ctx context.Context, program string) error
	InstallProgram(ctx context.Context, program, binPath, p4InfoPath string) error
	AddToTable(ctx context.Context, name string, e Entry, mode WriteMode) error
	ClearTable(ctx context.Context, name string) error
	ClearAll(ctx context.Context, ignore ...string) error
	Teardown()
}

// Field 是一个带名称的匹配键或动作参数
type Field = entity.Field

// Entry 描述要写入的一个表项
//   - Match：匹配键，名称可以是全限定名称也可以是唯一后缀。
//   - Action：动作名称，为空时只写匹配键。
//   - Params：动作参数。
//   - Priority：ternary/range 表需要的优先级，为 0 时使用 1。
type Entry struct {
	Match    []Field
	Action   string
	Params   []Field
	Priority int32
}

// WriteMode 决定表项写入时使用的更新类型
type WriteMode int

const (
	Insert WriteMode = iota
	Modify
	// ModifyIncrement 在 P4Runtime 中与 Modify 相同
	ModifyIncrement
)

func (m WriteMode) updateType() v1.Update_Type {
	if m == Insert {
		return v1.Update_INSERT
	}
	return v1.Update_MODIFY
}

func (m WriteMode) String() string {
	switch m {
	case Insert:
		return "insert"
	case Modify:
		return "modify"
	case ModifyIncrement:
		return "modify_inc"
	}
	return "unknown"
}

type CounterData struct {
	ByteCount   int64
	PacketCount int64
	Index       int64
}

type TableEntry = v1.TableEntry

type DirectCounterData struct {
	TableEntry  *TableEntry
	ByteCount   int64
	PacketCount int64
}
