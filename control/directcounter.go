package control

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/client"
	"p4ctl/util"
)

func getDirectCounterData(e *v1.Entity) (DirectCounterData, bool) {
	dcEntry := e.GetDirectCounterEntry()
	if dcEntry == nil {
		return DirectCounterData{}, false
	}
	return DirectCounterData{
		TableEntry:  dcEntry.GetTableEntry(),
		ByteCount:   dcEntry.GetData().GetByteCount(),
		PacketCount: dcEntry.GetData().GetPacketCount(),
	}, true
}

func getMultipleDCValuesSync(ctx context.Context, c client.EntityClient, req []*v1.Entity) ([]*DirectCounterData, error) {
	res, err := c.ReadEntitiesSync(ctx, req)
	if err != nil {
		return nil, err
	}

	result := make([]*DirectCounterData, 0, len(res))
	for _, item := range res {
		if dcData, ok := getDirectCounterData(item); ok {
			result = append(result, &dcData)
		}
	}
	return result, nil
}

func streamMultipleDCValues(ctx context.Context, c client.EntityClient, req []*v1.Entity) (chan *DirectCounterData, error) {
	dcCounterEntityCh, err := c.ReadEntities(ctx, req)
	if err != nil {
		return nil, err
	}

	dcDataChannel := make(chan *DirectCounterData, 100)
	go func() {
		defer close(dcDataChannel)
		for e := range dcCounterEntityCh {
			if dcCounterData, ok := getDirectCounterData(e); ok {
				dcDataChannel <- &dcCounterData
			}
		}
	}()

	return dcDataChannel, nil
}

// ReadDirectCounterValueOnEntry 从一个匹配的表项中读取 DirectCounter 值
func (tc TableControl) ReadDirectCounterValueOnEntry(ctx context.Context, match []Field, priority int32) (*DirectCounterData, error) {
	if _, ok := tc.catalog.DirectCounterOf(tc.table); !ok {
		return nil, util.NewNotFoundError("direct counter", "", tc.table.Name)
	}
	mk, err := tc.encodeMatch(match)
	if err != nil {
		return nil, err
	}
	req := []*v1.Entity{tc.table.DirectCounterForTableEntry(mk, tc.priority(priority))}

	res, err := getMultipleDCValuesSync(ctx, tc.client, req)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, util.NewNotFoundError("direct counter entry", tc.table.Name, "")
	}
	return res[0], nil
}

// ReadDirectCounterValuesSync 同步读取表中所有条目的 DirectCounter 数据。
func (tc TableControl) ReadDirectCounterValuesSync(ctx context.Context) ([]*DirectCounterData, error) {
	req := []*v1.Entity{tc.table.AllDirectCountersForTable()}
	return getMultipleDCValuesSync(ctx, tc.client, req)
}

// StreamDirectCounterValues 该方法与 ReadDirectCounterValuesSync 类似，但它返回一个 channel，允许异步处理所有 DirectCounter 值。
func (tc TableControl) StreamDirectCounterValues(ctx context.Context) (chan *DirectCounterData, error) {
	req := []*v1.Entity{tc.table.AllDirectCountersForTable()}
	return streamMultipleDCValues(ctx, tc.client, req)
}
