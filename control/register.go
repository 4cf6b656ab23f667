package control

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/client"
	"p4ctl/entity"
	"p4ctl/util"
)

// RegisterControl 用于读写 P4 寄存器。结构体或元组类型的寄存器单元会展开为一组整数。
type RegisterControl struct {
	client   client.EntityClient
	register *entity.Register
}

// NewRegisterControl 在 catalog 中解析寄存器名称
func NewRegisterControl(c client.EntityClient, name string) (RegisterControl, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return RegisterControl{}, err
	}
	register, err := catalog.Register(name)
	if err != nil {
		return RegisterControl{}, err
	}
	return RegisterControl{client: c, register: register}, nil
}

func (rc RegisterControl) Name() string {
	return rc.register.Name
}

func (rc RegisterControl) Size() int64 {
	return rc.register.Size
}

// Read 读取一个寄存器单元。设备没有返回数据时给出 [0] 并记录警告。
func (rc RegisterControl) Read(ctx context.Context, index int64) ([]uint64, error) {
	if err := rc.checkIndex(index); err != nil {
		return nil, err
	}
	res, err := rc.client.ReadEntitiesSync(ctx, []*v1.Entity{rc.register.ReadValueWithIndex(index)})
	if err != nil {
		return nil, err
	}
	var values []uint64
	for _, e := range res {
		re := e.GetRegisterEntry()
		if re == nil || re.GetIndex().GetIndex() != index {
			continue
		}
		flat, err := entity.FlattenData(re.GetData())
		if err != nil {
			return nil, err
		}
		values = append(values, flat...)
	}
	if len(values) == 0 {
		util.WithField("register", rc.register.Name).Warnf("No data returned for index %d, assuming 0", index)
		return []uint64{0}, nil
	}
	return values, nil
}

// ReadAll 读取寄存器所有已返回的单元，以索引为键
func (rc RegisterControl) ReadAll(ctx context.Context) (map[int64][]uint64, error) {
	res, err := rc.client.ReadEntitiesSync(ctx, []*v1.Entity{rc.register.ReadValue()})
	if err != nil {
		return nil, err
	}
	cells := make(map[int64][]uint64, len(res))
	for _, e := range res {
		re := e.GetRegisterEntry()
		if re == nil {
			continue
		}
		flat, err := entity.FlattenData(re.GetData())
		if err != nil {
			return nil, err
		}
		cells[re.GetIndex().GetIndex()] = flat
	}
	return cells, nil
}

// Write 写入一个寄存器单元，values 按成员顺序给出，缺少的成员写 0
func (rc RegisterControl) Write(ctx context.Context, index int64, values ...uint64) error {
	if err := rc.checkIndex(index); err != nil {
		return err
	}
	data, err := rc.register.Data(values...)
	if err != nil {
		return err
	}
	return rc.client.WriteUpdate(ctx, rc.register.WriteValue(index, data))
}

// Clear 将寄存器的所有单元置零
func (rc RegisterControl) Clear(ctx context.Context) error {
	update, err := rc.register.Reset()
	if err != nil {
		return err
	}
	return rc.client.WriteUpdate(ctx, update)
}

func (rc RegisterControl) checkIndex(index int64) error {
	if index < 0 || index >= rc.register.Size {
		return util.NewValueError(rc.register.Name, index, "index out of range [0, %d)", rc.register.Size)
	}
	return nil
}
