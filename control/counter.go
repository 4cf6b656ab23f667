package control

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/client"
	"p4ctl/entity"
	"p4ctl/util"
)

// clearBatchSize 是清零计数器时每个 WriteRequest 携带的最大更新数
const clearBatchSize = 256

// CounterControl
// 用于操作 P4 中的计数器。主要功能包括按索引批量读取、读取所有计数器值、异步读取，以及写入和清零。
type CounterControl struct {
	client  client.EntityClient
	counter *entity.Counter
}

// NewCounterControl 在 catalog 中解析计数器名称
func NewCounterControl(c client.EntityClient, name string) (CounterControl, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return CounterControl{}, err
	}
	counter, err := catalog.Counter(name)
	if err != nil {
		return CounterControl{}, err
	}
	return CounterControl{client: c, counter: counter}, nil
}

// Name 返回计数器的全限定名称
func (cc CounterControl) Name() string {
	return cc.counter.Name
}

// Size 返回计数器数组的大小
func (cc CounterControl) Size() int64 {
	return cc.counter.Size
}

// 用于从 v1.Entity 类型中提取计数器数据
func getCounterData(e *v1.Entity) (CounterData, bool) {
	counterEntry := e.GetCounterEntry()
	if counterEntry == nil {
		return CounterData{}, false
	}
	return CounterData{
		ByteCount:   counterEntry.GetData().GetByteCount(),
		PacketCount: counterEntry.GetData().GetPacketCount(),
		Index:       counterEntry.GetIndex().GetIndex(),
	}, true
}

// Read 在一次读请求中读取多个索引。indices 为 nil 时读取 [0, size) 的全部索引。
// 设备没有返回的索引计为 0。
func (cc CounterControl) Read(ctx context.Context, indices []int64) (map[int64]CounterData, error) {
	indices, err := cc.indices(indices)
	if err != nil {
		return nil, err
	}
	req := make([]*v1.Entity, 0, len(indices))
	result := make(map[int64]CounterData, len(indices))
	for _, i := range indices {
		req = append(req, cc.counter.ReadValueWithIndex(i))
		result[i] = CounterData{Index: i}
	}
	if len(req) == 0 {
		return result, nil
	}

	res, err := cc.client.ReadEntitiesSync(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, item := range res {
		data, ok := getCounterData(item)
		if !ok || item.GetCounterEntry().GetCounterId() != cc.counter.ID {
			continue
		}
		if _, asked := result[data.Index]; asked {
			result[data.Index] = data
		}
	}
	return result, nil
}

// ReadValueAtIndex 方法用于读取计数器在指定索引处的值。
func (cc CounterControl) ReadValueAtIndex(ctx context.Context, index int64) (*CounterData, error) {
	res, err := cc.Read(ctx, []int64{index})
	if err != nil {
		return nil, err
	}
	result := res[index]
	return &result, nil
}

// ReadValues 该方法用于读取计数器的所有值，只返回设备上存在的条目。
func (cc CounterControl) ReadValues(ctx context.Context) ([]*CounterData, error) {
	res, err := cc.client.ReadEntitiesSync(ctx, []*v1.Entity{cc.counter.ReadValue()})
	if err != nil {
		return nil, err
	}

	result := make([]*CounterData, 0, len(res))
	for _, item := range res {
		if counterData, ok := getCounterData(item); ok {
			result = append(result, &counterData)
		}
	}
	return result, nil
}

// StreamValues 该方法用于异步读取计数器的所有值，并将结果通过通道 (channel) 发送出去。
func (cc CounterControl) StreamValues(ctx context.Context) (chan *CounterData, error) {
	counterEntityCh, err := cc.client.ReadEntities(ctx, []*v1.Entity{cc.counter.ReadValue()})
	if err != nil {
		return nil, err
	}

	size := cc.counter.Size
	if size > 1024 {
		size = 1024
	}
	cdataChannel := make(chan *CounterData, size)
	go func() {
		defer close(cdataChannel)
		for e := range counterEntityCh {
			if counterData, ok := getCounterData(e); ok {
				cdataChannel <- &counterData
			}
		}
	}()

	return cdataChannel, nil
}

// Write 设置指定索引处的计数值
func (cc CounterControl) Write(ctx context.Context, index, byteCount, packetCount int64) error {
	if _, err := cc.indices([]int64{index}); err != nil {
		return err
	}
	return cc.client.WriteUpdate(ctx, cc.counter.WriteValue(index, byteCount, packetCount))
}

// Clear 将指定索引的计数清零，indices 为 nil 时清零全部索引。
// 更新按 clearBatchSize 分批发送，某一批失败不会中断其余批次。
func (cc CounterControl) Clear(ctx context.Context, indices []int64) error {
	indices, err := cc.indices(indices)
	if err != nil {
		return err
	}
	errs := &util.MultiError{Operation: "clear " + cc.counter.Name}
	for start := 0; start < len(indices); start += clearBatchSize {
		end := start + clearBatchSize
		if end > len(indices) {
			end = len(indices)
		}
		updates := make([]*v1.Update, 0, end-start)
		for _, i := range indices[start:end] {
			updates = append(updates, cc.counter.WriteValue(i, 0, 0))
		}
		errs.Add(cc.client.WriteUpdates(ctx, updates...))
	}
	return errs.ErrorOrNil()
}

func (cc CounterControl) indices(indices []int64) ([]int64, error) {
	if indices == nil {
		all := make([]int64, cc.counter.Size)
		for i := range all {
			all[i] = int64(i)
		}
		return all, nil
	}
	for _, i := range indices {
		if i < 0 || i >= cc.counter.Size {
			return nil, util.NewValueError(cc.counter.Name, i, "index out of range [0, %d)", cc.counter.Size)
		}
	}
	return indices, nil
}
