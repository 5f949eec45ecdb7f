package types

import (
	"fmt"
	"strings"
)

// EventFlag is the flag set carried by a change notification. The bit
// layout follows the FSEvents stream flags so a native source can pass its
// flags through unchanged.
type EventFlag uint32

const (
	EventFlagNone            EventFlag = 0x00000000
	EventFlagMustScanSubDirs EventFlag = 0x00000001
	EventFlagUserDropped     EventFlag = 0x00000002
	EventFlagKernelDropped   EventFlag = 0x00000004
	EventFlagEventIDsWrapped EventFlag = 0x00000008
	EventFlagHistoryDone     EventFlag = 0x00000010
	EventFlagRootChanged     EventFlag = 0x00000020
	EventFlagMount           EventFlag = 0x00000040
	EventFlagUnmount         EventFlag = 0x00000080

	EventFlagItemCreated        EventFlag = 0x00000100
	EventFlagItemRemoved        EventFlag = 0x00000200
	EventFlagItemInodeMetaMod   EventFlag = 0x00000400
	EventFlagItemRenamed        EventFlag = 0x00000800
	EventFlagItemModified       EventFlag = 0x00001000
	EventFlagItemFinderInfoMod  EventFlag = 0x00002000
	EventFlagItemChangeOwner    EventFlag = 0x00004000
	EventFlagItemXattrMod       EventFlag = 0x00008000
	EventFlagItemIsFile         EventFlag = 0x00010000
	EventFlagItemIsDir          EventFlag = 0x00020000
	EventFlagItemIsSymlink      EventFlag = 0x00040000
	EventFlagOwnEvent           EventFlag = 0x00080000
	EventFlagItemIsHardlink     EventFlag = 0x00100000
	EventFlagItemIsLastHardlink EventFlag = 0x00200000
	EventFlagItemCloned         EventFlag = 0x00400000
)

// historyLost is the set of flags meaning events were coalesced or dropped
// and the index can only be trusted again after a full rescan.
const historyLost = EventFlagUserDropped | EventFlagKernelDropped |
	EventFlagEventIDsWrapped | EventFlagRootChanged

var flagNames = []struct {
	flag EventFlag
	name string
}{
	{EventFlagMustScanSubDirs, "MustScanSubDirs"},
	{EventFlagUserDropped, "UserDropped"},
	{EventFlagKernelDropped, "KernelDropped"},
	{EventFlagEventIDsWrapped, "EventIDsWrapped"},
	{EventFlagHistoryDone, "HistoryDone"},
	{EventFlagRootChanged, "RootChanged"},
	{EventFlagMount, "Mount"},
	{EventFlagUnmount, "Unmount"},
	{EventFlagItemCreated, "ItemCreated"},
	{EventFlagItemRemoved, "ItemRemoved"},
	{EventFlagItemInodeMetaMod, "ItemInodeMetaMod"},
	{EventFlagItemRenamed, "ItemRenamed"},
	{EventFlagItemModified, "ItemModified"},
	{EventFlagItemFinderInfoMod, "ItemFinderInfoMod"},
	{EventFlagItemChangeOwner, "ItemChangeOwner"},
	{EventFlagItemXattrMod, "ItemXattrMod"},
	{EventFlagItemIsFile, "ItemIsFile"},
	{EventFlagItemIsDir, "ItemIsDir"},
	{EventFlagItemIsSymlink, "ItemIsSymlink"},
	{EventFlagOwnEvent, "OwnEvent"},
	{EventFlagItemIsHardlink, "ItemIsHardlink"},
	{EventFlagItemIsLastHardlink, "ItemIsLastHardlink"},
	{EventFlagItemCloned, "ItemCloned"},
}

// Has reports whether every bit of f2 is set in f.
func (f EventFlag) Has(f2 EventFlag) bool {
	return f&f2 == f2
}

// Any reports whether at least one bit of f2 is set in f.
func (f EventFlag) Any(f2 EventFlag) bool {
	return f&f2 != 0
}

// HistoryLost reports whether the source dropped or coalesced events.
func (f EventFlag) HistoryLost() bool {
	return f.Any(historyLost)
}

func (f EventFlag) String() string {
	if f == EventFlagNone {
		return "None"
	}
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// EventID orders notifications. Ids increase monotonically within a stream
// and let a consumer resume after the last one it processed.
type EventID uint64

// FsEvent is one change notification: what happened, where, and when in
// stream order.
type FsEvent struct {
	Path  string
	Flags EventFlag
	ID    EventID
}

func (e FsEvent) String() string {
	return fmt.Sprintf("#%d %s [%s]", e.ID, e.Path, e.Flags)
}
