package media

import "fmt"

// MirrorIndex maps an ever-increasing counter onto a sequence of the given
// size so that it is traversed forward, then backward, then forward again:
// 0,1,...,size-1,size-1,...,1,0,0,1,...
func MirrorIndex(size, i int) int {
	if size < 1 || i < 0 {
		panic(fmt.Sprintf("media: MirrorIndex(%d, %d) out of domain", size, i))
	}
	turn := i / size
	pos := i % size
	if turn%2 == 0 {
		return pos
	}
	return size - pos - 1
}
