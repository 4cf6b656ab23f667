package entity

import (
	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/codec"
)

// Table 表示一个 P4 表的实体，包含以下字段：
//
//	ID：表的唯一标识符。
//	Name：表的全限定名称。
//	Keys：按声明顺序排列的匹配键。
//	ActionIDs：表允许使用的动作。
//	IsConst：常量表的表项由程序决定，控制面不能修改。
//	Transformer：类型为 TableEntryTransformer 的函数，用于把应用层数据转换为表项。
type Table struct {
	ID                   uint32
	Name                 string
	Size                 int64
	Keys                 []*MatchField
	ActionIDs            []uint32
	ConstDefaultActionID uint32
	IsConst              bool
	Transformer          TableEntryTransformer

	keys   *suffixIndex
	byName map[string]*MatchField
}

// TableEntryTransformer 用于将 JSON 风格的数据转换为表项的匹配键与动作参数。
//   - 可以用于将应用层的数据转换为底层 P4 Runtime 所需的格式。
type TableEntryTransformer func(map[string]interface{}) (match []Field, params []Field)

// NeedsPriority 当表中存在 ternary/range/optional 匹配键时，表项必须带优先级
func (t *Table) NeedsPriority() bool {
	for _, k := range t.Keys {
		if k.Match.NeedsPriority() {
			return true
		}
	}
	return false
}

// Permits 判断动作是否在表的 action_refs 中
func (t *Table) Permits(actionID uint32) bool {
	if len(t.ActionIDs) == 0 {
		return true
	}
	for _, id := range t.ActionIDs {
		if id == actionID {
			return true
		}
	}
	return false
}

// Entry 构造一个表项。action 为 nil 时表项不带动作，仅用于删除和读取。
func (t *Table) Entry(match []codec.MatchKeyField, action *v1.Action, priority int32) *v1.TableEntry {
	entry := &v1.TableEntry{
		TableId:  t.ID,
		Match:    FieldMatches(match),
		Priority: priority,
	}
	if action != nil {
		entry.Action = &v1.TableAction{Type: &v1.TableAction_Action{Action: action}}
	}
	return entry
}

// InsertEntry 插入或修改一个条目
//   - updateType：INSERT 或 MODIFY。
//   - match：已经编码的匹配键，Omit 的键不会出现在表项中。
//   - action：要执行的动作以及参数。
func (t *Table) InsertEntry(updateType v1.Update_Type, match []codec.MatchKeyField, action *v1.Action, priority int32) *v1.Update {
	return tableUpdate(updateType, t.Entry(match, action, priority))
}

// SetDefaultEntry 修改表的默认动作。默认表项没有匹配键，只能 MODIFY。
func (t *Table) SetDefaultEntry(action *v1.Action) *v1.Update {
	entry := &v1.TableEntry{
		TableId:         t.ID,
		IsDefaultAction: true,
		Action:          &v1.TableAction{Type: &v1.TableAction_Action{Action: action}},
	}
	return tableUpdate(v1.Update_MODIFY, entry)
}

// DeleteEntry 删除与匹配键和优先级相同的表项
func (t *Table) DeleteEntry(match []codec.MatchKeyField, priority int32) *v1.Update {
	return tableUpdate(v1.Update_DELETE, t.Entry(match, nil, priority))
}

// DeleteRaw 删除一个从设备读回的表项
func (t *Table) DeleteRaw(entry *v1.TableEntry) *v1.Update {
	return tableUpdate(v1.Update_DELETE, &v1.TableEntry{
		TableId:  entry.TableId,
		Match:    entry.Match,
		Priority: entry.Priority,
	})
}

// ReadEntries 读取表中的所有条目
func (t *Table) ReadEntries() *v1.Entity {
	return &v1.Entity{Entity: &v1.Entity_TableEntry{TableEntry: &v1.TableEntry{TableId: t.ID}}}
}

// DirectCounterForTableEntry 获取与指定表项关联的 DirectCounter 的值。
func (t *Table) DirectCounterForTableEntry(match []codec.MatchKeyField, priority int32) *v1.Entity {
	return directCounterEntity(t.Entry(match, nil, priority))
}

// AllDirectCountersForTable 获取与特定表的所有条目相关的 DirectCounters 的值。
func (t *Table) AllDirectCountersForTable() *v1.Entity {
	return directCounterEntity(&v1.TableEntry{TableId: t.ID})
}

// AllDirectCounters 获取所有表中所有条目相关的 DirectCounters（直接计数器）的值。
func AllDirectCounters() *v1.Entity {
	return directCounterEntity(&v1.TableEntry{TableId: 0})
}

func (t *Table) RegisterTransformer(transformer TableEntryTransformer) {
	t.Transformer = transformer
}

func (t *Table) Type() string {
	return "TABLE"
}

func (t *Table) GetID() uint32 {
	return t.ID
}

func (t *Table) GetName() string {
	return t.Name
}

func directCounterEntity(entry *v1.TableEntry) *v1.Entity {
	return &v1.Entity{
		Entity: &v1.Entity_DirectCounterEntry{DirectCounterEntry: &v1.DirectCounterEntry{TableEntry: entry}},
	}
}

func tableUpdate(typ v1.Update_Type, entry *v1.TableEntry) *v1.Update {
	return &v1.Update{
		Type:   typ,
		Entity: &v1.Entity{Entity: &v1.Entity_TableEntry{TableEntry: entry}},
	}
}

// FieldMatches 把编码后的匹配键转换成 P4Runtime 的 FieldMatch，跳过不关心的键
func FieldMatches(fields []codec.MatchKeyField) []*v1.FieldMatch {
	var out []*v1.FieldMatch
	for _, f := range fields {
		if f.Omit {
			continue
		}
		out = append(out, fieldMatch(f))
	}
	return out
}

func fieldMatch(f codec.MatchKeyField) *v1.FieldMatch {
	mf := &v1.FieldMatch{FieldId: f.FieldID}
	switch f.Kind {
	case codec.MatchLPM:
		mf.FieldMatchType = &v1.FieldMatch_Lpm{Lpm: &v1.FieldMatch_LPM{Value: f.Value, PrefixLen: f.PrefixLen}}
	case codec.MatchTernary:
		mf.FieldMatchType = &v1.FieldMatch_Ternary_{Ternary: &v1.FieldMatch_Ternary{Value: f.Value, Mask: f.Mask}}
	case codec.MatchRange:
		mf.FieldMatchType = &v1.FieldMatch_Range_{Range: &v1.FieldMatch_Range{Low: f.Value, High: f.High}}
	case codec.MatchOptional:
		mf.FieldMatchType = &v1.FieldMatch_Optional_{Optional: &v1.FieldMatch_Optional{Value: f.Value}}
	default:
		// exact 与 valid 都以 exact 形式下发
		mf.FieldMatchType = &v1.FieldMatch_Exact_{Exact: &v1.FieldMatch_Exact{Value: f.Value}}
	}
	return mf
}
