package entity

import (
	"p4ctl/util"
)

// Resolve 把用户给出的名称解析成 Catalog 中的资源。
// 先按全限定名称精确查找，找不到时再按唯一后缀查找，例如 "t_fwd" 可以指代 "Ingress.t_fwd"。
// key 的 scope 是表名，param 的 scope 是动作名；action 带上表名作为 scope 时还会检查该动作是否属于这张表。
func (c *Catalog) Resolve(kind Kind, name, scope string) (ResourceRef, error) {
	return c.resolve(kind, name, scope, true)
}

// Lookup 与 Resolve 相同，但只接受全限定名称
func (c *Catalog) Lookup(kind Kind, name, scope string) (ResourceRef, error) {
	return c.resolve(kind, name, scope, false)
}

func (c *Catalog) resolve(kind Kind, name, scope string, suffix bool) (ResourceRef, error) {
	var (
		idx       *suffixIndex
		table     *Table
		action    *Action
		scopeName = scope
	)
	switch kind {
	case KindKey:
		t, err := c.scopeTable(scope, suffix)
		if err != nil {
			return ResourceRef{}, err
		}
		table, idx, scopeName = t, t.keys, t.Name
	case KindParam:
		ref, err := c.resolve(KindAction, scope, "", suffix)
		if err != nil {
			return ResourceRef{}, err
		}
		action = c.actions[ref.Resolved]
		idx, scopeName = action.params, action.Name
	case KindAction:
		if scope != "" {
			t, err := c.scopeTable(scope, suffix)
			if err != nil {
				return ResourceRef{}, err
			}
			table, scopeName = t, t.Name
		}
		idx = c.index[kind]
	default:
		idx = c.index[kind]
	}
	if idx == nil {
		return ResourceRef{}, util.NewNotFoundError(kind.String(), name, scopeName)
	}

	find := idx.exact
	if suffix {
		find = idx.lookup
	}
	full, id, ok := find(name)
	if !ok {
		if owners := idx.candidates(name); suffix && len(owners) > 0 {
			util.WithField("candidates", owners).Debugf("%s name %q is ambiguous", kind, name)
		}
		return ResourceRef{}, util.NewNotFoundError(kind.String(), name, scopeName)
	}

	ref := ResourceRef{Kind: kind, Requested: name, Resolved: full, ID: id}
	switch kind {
	case KindKey:
		ref.Bitwidth = table.byName[full].Bitwidth
	case KindParam:
		ref.Bitwidth = action.byName[full].Bitwidth
	case KindRegister:
		ref.Bitwidth = c.registers[full].Bitwidth()
	case KindAction:
		if table != nil && !table.Permits(id) {
			return ResourceRef{}, util.NewNotFoundError(kind.String(), name, scopeName)
		}
	}
	return ref, nil
}

func (c *Catalog) scopeTable(scope string, suffix bool) (*Table, error) {
	ref, err := c.resolve(KindTable, scope, "", suffix)
	if err != nil {
		return nil, err
	}
	return c.tables[ref.Resolved], nil
}

// Table 按名称查找表
func (c *Catalog) Table(name string) (*Table, error) {
	ref, err := c.Resolve(KindTable, name, "")
	if err != nil {
		return nil, err
	}
	return c.tables[ref.Resolved], nil
}

// TableByID 按 ID 查找表
func (c *Catalog) TableByID(id uint32) (*Table, bool) {
	t, ok := c.tables[c.names[id]]
	if ok && t.ID != id {
		return nil, false
	}
	return t, ok
}

// Action 按名称查找动作。table 不为 nil 时动作必须属于这张表。
func (c *Catalog) Action(table *Table, name string) (*Action, error) {
	scope := ""
	if table != nil {
		scope = table.Name
	}
	ref, err := c.Resolve(KindAction, name, scope)
	if err != nil {
		return nil, err
	}
	return c.actions[ref.Resolved], nil
}

// Key 在表的范围内查找匹配键
func (c *Catalog) Key(table *Table, name string) (*MatchField, error) {
	ref, err := c.Resolve(KindKey, name, table.Name)
	if err != nil {
		return nil, err
	}
	return table.byName[ref.Resolved], nil
}

// Param 在动作的范围内查找参数
func (c *Catalog) Param(action *Action, name string) (*Param, error) {
	ref, err := c.Resolve(KindParam, name, action.Name)
	if err != nil {
		return nil, err
	}
	return action.byName[ref.Resolved], nil
}

func (c *Catalog) Counter(name string) (*Counter, error) {
	ref, err := c.Resolve(KindCounter, name, "")
	if err != nil {
		return nil, err
	}
	return c.counters[ref.Resolved], nil
}

func (c *Catalog) DirectCounter(name string) (*DirectCounter, error) {
	ref, err := c.Resolve(KindDirectCounter, name, "")
	if err != nil {
		return nil, err
	}
	return c.directCounters[ref.Resolved], nil
}

// DirectCounterOf 返回绑定在表上的直接计数器
func (c *Catalog) DirectCounterOf(table *Table) (*DirectCounter, bool) {
	for _, dc := range c.directCounters {
		if dc.TableID == table.ID {
			return dc, true
		}
	}
	return nil, false
}

func (c *Catalog) Register(name string) (*Register, error) {
	ref, err := c.Resolve(KindRegister, name, "")
	if err != nil {
		return nil, err
	}
	return c.registers[ref.Resolved], nil
}

func (c *Catalog) Digest(name string) (*Digest, error) {
	ref, err := c.Resolve(KindDigest, name, "")
	if err != nil {
		return nil, err
	}
	return c.digests[ref.Resolved], nil
}
