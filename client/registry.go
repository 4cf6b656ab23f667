package client

import (
	"fmt"
	"math/rand"
	"sync"
)

// MaxClientID 是客户端 ID 的上限，ID 取值范围为 [1, MaxClientID]
const MaxClientID = 65535

// registry 记录本进程中所有存活会话使用的客户端 ID。
// 检查与插入在同一把锁内完成，并发订阅的会话不会拿到相同的 ID。
var registry = struct {
	sync.Mutex
	live map[uint32]struct{}
}{live: make(map[uint32]struct{})}

// reserveClientID 预留一个客户端 ID。preferred 可用时直接使用，否则随机选择一个未被占用的 ID。
func reserveClientID(preferred uint32) (uint32, error) {
	registry.Lock()
	defer registry.Unlock()

	if preferred != 0 && preferred <= MaxClientID {
		if _, taken := registry.live[preferred]; !taken {
			registry.live[preferred] = struct{}{}
			return preferred, nil
		}
	}
	if len(registry.live) >= MaxClientID {
		return 0, fmt.Errorf("all %d client ids are in use", MaxClientID)
	}
	for {
		id := uint32(rand.Intn(MaxClientID)) + 1
		if _, taken := registry.live[id]; !taken {
			registry.live[id] = struct{}{}
			return id, nil
		}
	}
}

// releaseClientID 释放客户端 ID，重复释放没有影响
func releaseClientID(id uint32) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.live, id)
}

// IsClientIDLive 判断 ID 是否被某个存活的会话占用
func IsClientIDLive(id uint32) bool {
	registry.Lock()
	defer registry.Unlock()
	_, ok := registry.live[id]
	return ok
}
