package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"

	"p4ctl/client"
	"p4ctl/entity"
	"p4ctl/util"
)

// MulticastNode 是一组共享同一个 replication id 的出端口
type MulticastNode struct {
	ID    uint32
	RID   uint32
	Ports []uint32
}

// MulticastControl 维护组播组与节点的本地模型，并把每次变更同步到设备。
// 节点只存在于本地，设备上只有组以及由组内节点展开得到的副本列表。
// 顺序约束：
//   - 组必须先创建再关联节点；
//   - 节点必须先与组解除关联，才能被销毁；
//   - 组内没有节点时才能被销毁。
type MulticastControl struct {
	client client.EntityClient

	mu       sync.Mutex
	nextNode uint32
	nodes    map[uint32]*MulticastNode
	groups   map[uint32][]uint32
	owner    map[uint32]uint32
}

func NewMulticastControl(c client.EntityClient) *MulticastControl {
	return &MulticastControl{
		client: c,
		nodes:  make(map[uint32]*MulticastNode),
		groups: make(map[uint32][]uint32),
		owner:  make(map[uint32]uint32),
	}
}

// CreateNode 创建节点并返回节点 ID，节点 ID 从 1 开始递增。
// 端口列表不能为空，也不能有重复端口。
func (mc *MulticastControl) CreateNode(rid uint32, ports []uint32) (uint32, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.createNode(rid, ports)
}

func (mc *MulticastControl) createNode(rid uint32, ports []uint32) (uint32, error) {
	if len(ports) == 0 {
		return 0, util.NewValueError("ports", ports, "multicast node needs at least one port")
	}
	seen := make(map[uint32]bool, len(ports))
	for _, p := range ports {
		if seen[p] {
			return 0, util.NewValueError("ports", p, "port given more than once")
		}
		seen[p] = true
	}
	mc.nextNode++
	node := &MulticastNode{ID: mc.nextNode, RID: rid, Ports: append([]uint32(nil), ports...)}
	mc.nodes[node.ID] = node
	return node.ID, nil
}

// DestroyNode 销毁一个未关联到任何组的节点
func (mc *MulticastControl) DestroyNode(nodeID uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.nodes[nodeID]; !ok {
		return util.NewNotFoundError("multicast node", fmt.Sprint(nodeID), "")
	}
	if group, ok := mc.owner[nodeID]; ok {
		return util.NewOrderingError("destroy", nodeName(nodeID), fmt.Sprintf("dissociate it from group %d first", group))
	}
	delete(mc.nodes, nodeID)
	return nil
}

// CreateGroup 在设备上创建一个空的组播组
func (mc *MulticastControl) CreateGroup(ctx context.Context, groupID uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.createGroup(ctx, groupID)
}

func (mc *MulticastControl) createGroup(ctx context.Context, groupID uint32) error {
	if groupID == 0 {
		return util.NewValueError("multicast group", groupID, "group id 0 is reserved")
	}
	if _, ok := mc.groups[groupID]; ok {
		return util.NewOrderingError("create", groupName(groupID), "group already exists")
	}
	if err := mc.client.WriteUpdate(ctx, entity.MulticastGroupUpdate(v1.Update_INSERT, groupID, nil)); err != nil {
		return err
	}
	mc.groups[groupID] = nil
	return nil
}

// DestroyGroup 删除一个没有节点的组播组
func (mc *MulticastControl) DestroyGroup(ctx context.Context, groupID uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	nodes, ok := mc.groups[groupID]
	if !ok {
		return util.NewNotFoundError("multicast group", fmt.Sprint(groupID), "")
	}
	if len(nodes) > 0 {
		return util.NewOrderingError("destroy", groupName(groupID), fmt.Sprintf("dissociate its %d nodes first", len(nodes)))
	}
	if err := mc.client.WriteUpdate(ctx, entity.MulticastGroupUpdate(v1.Update_DELETE, groupID, nil)); err != nil {
		return err
	}
	delete(mc.groups, groupID)
	return nil
}

// Associate 把节点加入组，并以新的副本列表修改设备上的组
func (mc *MulticastControl) Associate(ctx context.Context, groupID, nodeID uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.associate(ctx, groupID, nodeID)
}

func (mc *MulticastControl) associate(ctx context.Context, groupID, nodeID uint32) error {
	nodes, ok := mc.groups[groupID]
	if !ok {
		return util.NewOrderingError("associate", nodeName(nodeID), fmt.Sprintf("create group %d first", groupID))
	}
	if _, ok := mc.nodes[nodeID]; !ok {
		return util.NewNotFoundError("multicast node", fmt.Sprint(nodeID), "")
	}
	if group, ok := mc.owner[nodeID]; ok {
		return util.NewOrderingError("associate", nodeName(nodeID), fmt.Sprintf("node already belongs to group %d", group))
	}
	next := append(append([]uint32(nil), nodes...), nodeID)
	if err := mc.writeGroup(ctx, groupID, next); err != nil {
		return err
	}
	mc.groups[groupID] = next
	mc.owner[nodeID] = groupID
	return nil
}

// Dissociate 把节点移出组
func (mc *MulticastControl) Dissociate(ctx context.Context, groupID, nodeID uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.dissociate(ctx, groupID, nodeID)
}

func (mc *MulticastControl) dissociate(ctx context.Context, groupID, nodeID uint32) error {
	if group, ok := mc.owner[nodeID]; !ok || group != groupID {
		return util.NewNotFoundError("multicast node", fmt.Sprint(nodeID), groupName(groupID))
	}
	var next []uint32
	for _, id := range mc.groups[groupID] {
		if id != nodeID {
			next = append(next, id)
		}
	}
	if err := mc.writeGroup(ctx, groupID, next); err != nil {
		return err
	}
	mc.groups[groupID] = next
	delete(mc.owner, nodeID)
	return nil
}

// SetGroupMembers 用给定端口替换组内的全部成员，每个端口一个节点，replication id 均为 rid。
// 组不存在时先创建；设备上已有同 ID 的组时直接接管。
func (mc *MulticastControl) SetGroupMembers(ctx context.Context, groupID, rid uint32, ports []uint32) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if nodes, ok := mc.groups[groupID]; ok {
		for _, nodeID := range nodes {
			if err := mc.dissociate(ctx, groupID, nodeID); err != nil {
				return err
			}
			delete(mc.nodes, nodeID)
		}
	} else if err := mc.createGroup(ctx, groupID); err != nil {
		var te *util.TransportError
		if !errors.As(err, &te) || te.Code() != codes.AlreadyExists {
			return err
		}
		util.WithField("group", groupID).Debug("Group already on device, taking it over")
		mc.groups[groupID] = nil
	}

	for _, port := range ports {
		nodeID, err := mc.createNode(rid, []uint32{port})
		if err != nil {
			return err
		}
		if err := mc.associate(ctx, groupID, nodeID); err != nil {
			delete(mc.nodes, nodeID)
			return err
		}
	}
	return nil
}

// Groups 读取设备上所有组播组的副本列表
func (mc *MulticastControl) Groups(ctx context.Context) (map[uint32][]entity.Replica, error) {
	res, err := mc.client.ReadEntitiesSync(ctx, []*v1.Entity{entity.MulticastGroup(0, nil)})
	if err != nil {
		return nil, err
	}
	groups := make(map[uint32][]entity.Replica, len(res))
	for _, e := range res {
		if id, replicas, ok := entity.ReplicasOf(e); ok {
			groups[id] = replicas
		}
	}
	return groups, nil
}

// ClearAll 删除设备上的所有组播组，并清空本地模型
func (mc *MulticastControl) ClearAll(ctx context.Context) error {
	groups, err := mc.Groups(ctx)
	if err != nil {
		return err
	}
	ids := make([]uint32, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	mc.mu.Lock()
	defer mc.mu.Unlock()
	errs := &util.MultiError{Operation: "clear multicast groups"}
	for _, id := range ids {
		if err := mc.client.WriteUpdate(ctx, entity.MulticastGroupUpdate(v1.Update_DELETE, id, nil)); err != nil {
			errs.Add(err)
			continue
		}
		for _, nodeID := range mc.groups[id] {
			delete(mc.owner, nodeID)
			delete(mc.nodes, nodeID)
		}
		delete(mc.groups, id)
	}
	return errs.ErrorOrNil()
}

// Nodes 返回组内节点 ID，组不存在时 ok 为 false
func (mc *MulticastControl) Nodes(groupID uint32) (nodes []uint32, ok bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	nodes, ok = mc.groups[groupID]
	return append([]uint32(nil), nodes...), ok
}

func (mc *MulticastControl) writeGroup(ctx context.Context, groupID uint32, nodes []uint32) error {
	var replicas []entity.Replica
	for _, id := range nodes {
		node := mc.nodes[id]
		for _, port := range node.Ports {
			replicas = append(replicas, entity.Replica{Port: port, Instance: node.RID})
		}
	}
	return mc.client.WriteUpdate(ctx, entity.MulticastGroupUpdate(v1.Update_MODIFY, groupID, replicas))
}

func nodeName(id uint32) string  { return fmt.Sprintf("node %d", id) }
func groupName(id uint32) string { return fmt.Sprintf("group %d", id) }
