package control

import (
	"context"
	"strings"

	"p4ctl/codec"
	"p4ctl/util"
)

// writeCounterCell 把表项形式的写入转换为计数器写入：唯一的匹配键是索引，
// 名称以 bytes 结尾的参数是字节数，以 packets 或 pkts 结尾的参数是报文数。
func (sc *Controller) writeCounterCell(ctx context.Context, cc CounterControl, e Entry) error {
	index, err := cellIndex(cc.counter.Name, e.Match)
	if err != nil {
		return err
	}
	var byteCount, packetCount int64
	for _, p := range e.Params {
		v, err := cellValue(p)
		if err != nil {
			return err
		}
		switch name := strings.ToUpper(p.Name); {
		case strings.HasSuffix(name, "BYTES"):
			byteCount = int64(v)
		case strings.HasSuffix(name, "PACKETS"), strings.HasSuffix(name, "PKTS"):
			packetCount = int64(v)
		default:
			return util.NewValueError(p.Name, p.Value, "counter %s takes bytes and packets only", cc.counter.Name)
		}
	}
	return cc.Write(ctx, index, byteCount, packetCount)
}

// writeRegisterCell 把表项形式的写入转换为寄存器写入，参数按给出的顺序对应寄存器成员
func (sc *Controller) writeRegisterCell(ctx context.Context, rc RegisterControl, e Entry) error {
	index, err := cellIndex(rc.register.Name, e.Match)
	if err != nil {
		return err
	}
	values := make([]uint64, 0, len(e.Params))
	for _, p := range e.Params {
		v, err := cellValue(p)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	return rc.Write(ctx, index, values...)
}

func cellIndex(resource string, match []Field) (int64, error) {
	if len(match) != 1 {
		return 0, util.NewMatchKeyError(resource, "expected exactly one index key, got %d", len(match))
	}
	v, err := cellValue(match[0])
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// cellValue 把数值或数值字面量转换为 uint64，超过 63 位的值被拒绝
func cellValue(f Field) (uint64, error) {
	b, err := codec.Encode(f.Value, 63)
	if err != nil {
		if ve, ok := err.(*util.ValueError); ok && ve.Field == "" {
			ve.Field = f.Name
		}
		return 0, err
	}
	return codec.DecodeUint64(b)
}
