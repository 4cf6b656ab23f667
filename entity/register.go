package entity

import (
	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/codec"
	"p4ctl/util"
)

// RegisterMember 描述寄存器单元中的一个值。bit<W> 类型的寄存器只有一个成员，
// tuple/struct 类型的寄存器每个字段一个成员。
type RegisterMember struct {
	Name     string
	Bitwidth int
	Bool     bool
}

// Register 是一个有状态数组，每个单元保存一个或多个整数
type Register struct {
	ID      uint32
	Name    string
	Size    int64
	Members []RegisterMember
	// Composite 为 true 时单元是 tuple 或 struct
	Composite bool
	IsStruct  bool
}

// Bitwidth 返回第一个成员的宽度
func (r *Register) Bitwidth() int {
	if len(r.Members) == 0 {
		return 0
	}
	return r.Members[0].Bitwidth
}

func (r *Register) ReadValueWithIndex(index int64) *v1.Entity {
	return registerEntity(&v1.RegisterEntry{RegisterId: r.ID, Index: &v1.Index{Index: index}})
}

// ReadValue 读取寄存器的所有单元
func (r *Register) ReadValue() *v1.Entity {
	return registerEntity(&v1.RegisterEntry{RegisterId: r.ID})
}

// Data 把整数编码成寄存器单元的数据。values 按成员顺序对应，缺少的成员写 0。
func (r *Register) Data(values ...uint64) (*v1.P4Data, error) {
	if len(values) > len(r.Members) {
		return nil, util.NewValueError(r.Name, values, "register cell has %d members", len(r.Members))
	}
	members := make([]*v1.P4Data, len(r.Members))
	for i, m := range r.Members {
		var v uint64
		if i < len(values) {
			v = values[i]
		}
		if m.Bool {
			if v > 1 {
				return nil, util.NewValueError(r.Name, v, "member %d is a bool", i)
			}
			members[i] = &v1.P4Data{Data: &v1.P4Data_Bool{Bool: v == 1}}
			continue
		}
		b, err := codec.Encode(v, m.Bitwidth)
		if err != nil {
			if ve, ok := err.(*util.ValueError); ok {
				ve.Field = r.Name
			}
			return nil, err
		}
		members[i] = &v1.P4Data{Data: &v1.P4Data_Bitstring{Bitstring: b}}
	}
	if !r.Composite {
		return members[0], nil
	}
	if r.IsStruct {
		return &v1.P4Data{Data: &v1.P4Data_Struct{Struct: &v1.P4StructLike{Members: members}}}, nil
	}
	return &v1.P4Data{Data: &v1.P4Data_Tuple{Tuple: &v1.P4StructLike{Members: members}}}, nil
}

// WriteValue 写入一个寄存器单元
func (r *Register) WriteValue(index int64, data *v1.P4Data) *v1.Update {
	return &v1.Update{
		Type: v1.Update_MODIFY,
		Entity: registerEntity(&v1.RegisterEntry{
			RegisterId: r.ID,
			Index:      &v1.Index{Index: index},
			Data:       data,
		}),
	}
}

// Reset 不设置 index 的 MODIFY 会作用于整个寄存器数组
func (r *Register) Reset() (*v1.Update, error) {
	data, err := r.Data()
	if err != nil {
		return nil, err
	}
	return &v1.Update{
		Type:   v1.Update_MODIFY,
		Entity: registerEntity(&v1.RegisterEntry{RegisterId: r.ID, Data: data}),
	}, nil
}

func (r *Register) Type() string {
	return "REGISTER"
}

func (r *Register) GetID() uint32 {
	return r.ID
}

func (r *Register) GetName() string {
	return r.Name
}

func registerEntity(entry *v1.RegisterEntry) *v1.Entity {
	return &v1.Entity{Entity: &v1.Entity_RegisterEntry{RegisterEntry: entry}}
}

// FlattenData 把 P4Data 展开成整数列表，tuple/struct 的每个成员一个值
func FlattenData(d *v1.P4Data) ([]uint64, error) {
	switch x := d.GetData().(type) {
	case *v1.P4Data_Bitstring:
		u, err := codec.DecodeUint64(x.Bitstring)
		if err != nil {
			return nil, err
		}
		return []uint64{u}, nil
	case *v1.P4Data_Bool:
		if x.Bool {
			return []uint64{1}, nil
		}
		return []uint64{0}, nil
	case *v1.P4Data_Tuple:
		return flattenMembers(x.Tuple.GetMembers())
	case *v1.P4Data_Struct:
		return flattenMembers(x.Struct.GetMembers())
	case nil:
		return nil, nil
	default:
		return nil, util.NewValueError("", d, "unsupported register data %T", x)
	}
}

func flattenMembers(members []*v1.P4Data) ([]uint64, error) {
	var out []uint64
	for _, m := range members {
		vals, err := FlattenData(m)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}
