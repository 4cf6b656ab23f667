package entity

import (
	"github.com/p4lang/p4runtime/go/p4/v1"
)

// Replica 是组播组中的一个副本：报文从 Port 发出，实例号为 Instance（即 replication id）
type Replica struct {
	Port     uint32
	Instance uint32
}

// MulticastGroup 构造一个组播组实体，groupID 为 0 时表示读取所有组
func MulticastGroup(groupID uint32, replicas []Replica) *v1.Entity {
	entry := &v1.MulticastGroupEntry{MulticastGroupId: groupID}
	for _, r := range replicas {
		entry.Replicas = append(entry.Replicas, &v1.Replica{EgressPort: r.Port, Instance: r.Instance})
	}
	return &v1.Entity{
		Entity: &v1.Entity_PacketReplicationEngineEntry{
			PacketReplicationEngineEntry: &v1.PacketReplicationEngineEntry{
				Type: &v1.PacketReplicationEngineEntry_MulticastGroupEntry{MulticastGroupEntry: entry},
			},
		},
	}
}

// MulticastGroupUpdate 插入、修改或删除一个组播组
func MulticastGroupUpdate(updateType v1.Update_Type, groupID uint32, replicas []Replica) *v1.Update {
	return &v1.Update{Type: updateType, Entity: MulticastGroup(groupID, replicas)}
}

// ReplicasOf 从读回的实体中取出组播组，不是组播组时 ok 为 false
func ReplicasOf(e *v1.Entity) (groupID uint32, replicas []Replica, ok bool) {
	mg := e.GetPacketReplicationEngineEntry().GetMulticastGroupEntry()
	if mg == nil {
		return 0, nil, false
	}
	for _, r := range mg.Replicas {
		replicas = append(replicas, Replica{Port: r.EgressPort, Instance: r.Instance})
	}
	return mg.MulticastGroupId, replicas, true
}
