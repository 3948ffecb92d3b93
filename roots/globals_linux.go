//go:build linux

package roots

import "bufio"
import "os"
import "strconv"
import "strings"

import "github.com/bnclabs/goheap/fatptr"

// RegisterGlobalRoots enumerate the loaded segments of the process
// image: writable segments become permanent root ranges, read-only
// segments are scanned once and their hits pinned. Segment
// enumeration reads the kernel's mapping table, the closest portable
// analogue to walking the dynamic loader's program headers.
func (r *Roots) RegisterGlobalRoots() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	fd, err := os.Open("/proc/self/maps")
	if err != nil {
		return err
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[5] != exe {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrs[0], 16, 64)
		end, err2 := strconv.ParseUint(addrs[1], 16, 64)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		perms := fields[1]
		if strings.Contains(perms, "x") || !strings.Contains(perms, "r") {
			continue
		}
		rng := fatptr.New(uintptr(start), int64(end-start))
		if strings.Contains(perms, "w") {
			r.AddRange(rng)
		} else {
			r.AddPinnedRange(rng)
		}
	}
	return scanner.Err()
}
