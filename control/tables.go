package control

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/client"
	"p4ctl/codec"
	"p4ctl/entity"
	"p4ctl/util"
)

// TableControl 用于操作一张 P4 表。所有名称都在写入前解析、所有值都在写入前编码，
// 任何一步出错都不会向设备发送请求。
type TableControl struct {
	client  client.EntityClient
	catalog *entity.Catalog
	table   *entity.Table
}

// NewTableControl 在 catalog 中解析表名
func NewTableControl(c client.EntityClient, name string) (TableControl, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return TableControl{}, err
	}
	table, err := catalog.Table(name)
	if err != nil {
		return TableControl{}, err
	}
	return TableControl{client: c, catalog: catalog, table: table}, nil
}

// Name 返回表的全限定名称
func (tc TableControl) Name() string {
	return tc.table.Name
}

// Add 写入一个表项
func (tc TableControl) Add(ctx context.Context, e Entry, mode WriteMode) error {
	match, err := tc.encodeMatch(e.Match)
	if err != nil {
		return err
	}
	var action *v1.Action
	if e.Action != "" {
		if action, err = tc.encodeAction(e.Action, e.Params); err != nil {
			return err
		}
	} else if len(e.Params) > 0 {
		return util.NewValueError(e.Params[0].Name, e.Params[0].Value, "parameters given without an action for %s", tc.table.Name)
	}

	update := tc.table.InsertEntry(mode.updateType(), match, action, tc.priority(e.Priority))
	util.WithField("table", tc.table.Name).Debugf("%s entry with %d match fields", mode, len(match))
	return tc.client.WriteUpdate(ctx, update)
}

// Delete 删除与匹配键完全相同的表项
func (tc TableControl) Delete(ctx context.Context, match []Field, priority int32) error {
	mk, err := tc.encodeMatch(match)
	if err != nil {
		return err
	}
	return tc.client.WriteUpdate(ctx, tc.table.DeleteEntry(mk, tc.priority(priority)))
}

// SetDefaultAction 修改表的默认动作
func (tc TableControl) SetDefaultAction(ctx context.Context, action string, params []Field) error {
	a, err := tc.encodeAction(action, params)
	if err != nil {
		return err
	}
	return tc.client.WriteUpdate(ctx, tc.table.SetDefaultEntry(a))
}

// Entries 读取表中所有非默认表项
func (tc TableControl) Entries(ctx context.Context) ([]*TableEntry, error) {
	res, err := tc.client.ReadEntitiesSync(ctx, []*v1.Entity{tc.table.ReadEntries()})
	if err != nil {
		return nil, err
	}
	var entries []*TableEntry
	for _, e := range res {
		te := e.GetTableEntry()
		if te == nil || te.IsDefaultAction || te.TableId != tc.table.ID {
			continue
		}
		entries = append(entries, te)
	}
	return entries, nil
}

// Clear 删除表中所有非默认表项，每个表项单独删除，失败不会中断其余删除
func (tc TableControl) Clear(ctx context.Context) error {
	entries, err := tc.Entries(ctx)
	if err != nil {
		return err
	}
	errs := &util.MultiError{Operation: "clear " + tc.table.Name}
	for _, te := range entries {
		errs.Add(tc.client.WriteUpdate(ctx, tc.table.DeleteRaw(te)))
	}
	util.WithField("table", tc.table.Name).Debugf("Cleared %d of %d entries", len(entries)-len(errs.Errors), len(entries))
	return errs.ErrorOrNil()
}

// InsertEntry 提供更简洁的表项插入接口，数据通过注册的 Transformer 转换为匹配键与参数
func (tc TableControl) InsertEntry(ctx context.Context, action string, data map[string]interface{}) error {
	if tc.table.Transformer == nil {
		return util.NewOrderingError("insert", tc.table.Name, "register a transformer first")
	}
	match, params := tc.table.Transformer(data)
	return tc.Add(ctx, Entry{Match: match, Action: action, Params: params}, Insert)
}

// RegisterTransformer 注册表项转换器
func (tc TableControl) RegisterTransformer(transformer entity.TableEntryTransformer) {
	tc.table.RegisterTransformer(transformer)
}

// encodeMatch 按声明顺序编码匹配键。exact 键必须给出，其余类型的键缺省表示不关心。
func (tc TableControl) encodeMatch(match []Field) ([]codec.MatchKeyField, error) {
	given := make(map[uint32]codec.MatchKeyField, len(match))
	for _, f := range match {
		key, err := tc.catalog.Key(tc.table, f.Name)
		if err != nil {
			return nil, err
		}
		if _, dup := given[key.ID]; dup {
			return nil, util.NewMatchKeyError(key.Name, "given more than once")
		}
		mk, err := codec.EncodeMatch(key.Spec(), f.Value)
		if err != nil {
			return nil, err
		}
		given[key.ID] = mk
	}

	out := make([]codec.MatchKeyField, 0, len(given))
	for _, key := range tc.table.Keys {
		mk, ok := given[key.ID]
		if !ok {
			if key.Match == codec.MatchExact || key.Match == codec.MatchValid {
				return nil, util.NewMatchKeyError(key.Name, "%s key of %s is required", key.Match, tc.table.Name)
			}
			continue
		}
		out = append(out, mk)
	}
	return out, nil
}

func (tc TableControl) encodeAction(name string, params []Field) (*v1.Action, error) {
	action, err := tc.catalog.Action(tc.table, name)
	if err != nil {
		return nil, err
	}
	values := make(map[uint32][]byte, len(params))
	for _, p := range params {
		param, err := tc.catalog.Param(action, p.Name)
		if err != nil {
			return nil, err
		}
		if _, dup := values[param.ID]; dup {
			return nil, util.NewValueError(param.Name, p.Value, "given more than once")
		}
		b, err := codec.Encode(p.Value, param.Bitwidth)
		if err != nil {
			if ve, ok := err.(*util.ValueError); ok && ve.Field == "" {
				ve.Field = param.Name
			}
			return nil, err
		}
		values[param.ID] = b
	}

	encoded := make([]entity.ParamValue, 0, len(action.Params))
	for _, p := range action.Params {
		b, ok := values[p.ID]
		if !ok {
			return nil, util.NewValueError(p.Name, nil, "missing parameter of %s", action.Name)
		}
		encoded = append(encoded, entity.ParamValue{ID: p.ID, Value: b})
	}
	return action.Call(encoded), nil
}

func (tc TableControl) priority(p int32) int32 {
	if !tc.table.NeedsPriority() {
		return 0
	}
	if p == 0 {
		return 1
	}
	return p
}
