package customs

import (
	"strconv"

	"importflow/internal/util"
)

// NameSplits names count declarations for one customer. Index 0 keeps the
// real name; later indexes get "<first name> <pool surname>". Once the pool
// wraps, or when an alias would repeat an earlier name, a cycle number is
// appended ("Ana García 2"). The name at a given index never depends on count.
func (e *Engine) NameSplits(count int, primary string) []string {
	if count <= 0 {
		return nil
	}
	primary = util.NormalizeSpaces(primary)
	if primary == "" {
		primary = UnknownCustomer
	}
	first := util.FirstToken(primary)

	names := make([]string, 0, count)
	names = append(names, primary)
	seen := map[string]bool{util.NormalizeHeader(primary): true}

	size := len(e.surnames)
	for i := 1; i < count; i++ {
		surname := e.surnames[i%size]
		cycle := (i-1)/size + 1
		var name string
		for {
			name = first + " " + surname
			if cycle > 1 {
				name += " " + strconv.Itoa(cycle)
			}
			if !seen[util.NormalizeHeader(name)] {
				break
			}
			cycle++
		}
		seen[util.NormalizeHeader(name)] = true
		names = append(names, name)
	}
	return names
}
