package control

// Combiner 将一个寄存器单元展开后的多个值合并为一个值
type Combiner func(values []uint64) uint64

// Sum 返回所有值之和
func Sum(values []uint64) uint64 {
	var total uint64
	for _, v := range values {
		total += v
	}
	return total
}

// Max 返回最大值，空输入返回 0
func Max(values []uint64) uint64 {
	var m uint64
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

// MinNonZero 返回最小的非零值，全为零时返回 0
func MinNonZero(values []uint64) uint64 {
	var m uint64
	for _, v := range values {
		if v != 0 && (m == 0 || v < m) {
			m = v
		}
	}
	return m
}

// MaxWithOverflow 把最大值当作低 32 位，把不等于最大值的最小非零值当作高 32 位。
func MaxWithOverflow(values []uint64) uint64 {
	m := Max(values)
	var overflow uint64
	for _, v := range values {
		if v != 0 && v != m && (overflow == 0 || v < overflow) {
			overflow = v
		}
	}
	return overflow<<32 + m
}

// HighLowSum 合并按实例拆分的 64 位计数：前 instances 个值是各实例的低 32 位，
// 后 instances 个值是高 32 位。值的个数不是 2*instances 时退化为 MaxWithOverflow。
func HighLowSum(instances int) Combiner {
	return func(values []uint64) uint64 {
		if instances <= 0 || len(values) != 2*instances {
			return MaxWithOverflow(values)
		}
		return Sum(values[instances:])<<32 + Sum(values[:instances])
	}
}
