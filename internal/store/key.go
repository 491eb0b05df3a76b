package store

import (
	"strings"

	"github.com/d60-Lab/localsync/internal/model"
)

// Key (collection, partition, itemId)。partition 一般是用户 id，决定“谁的那一份”。
type Key struct {
	Collection model.Collection
	Partition  string
	ItemID     string
}

func NewKey(c model.Collection, partition, itemID string) Key {
	return Key{Collection: c, Partition: partition, ItemID: itemID}
}

var (
	segEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	segUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// String 编码为 <collection>:<partition>:<itemId>，段内的 ':' 与 '%' 会被转义
func (k Key) String() string {
	return string(k.Collection) + ":" + segEscaper.Replace(k.Partition) + ":" + segEscaper.Replace(k.ItemID)
}

func partitionPrefix(c model.Collection, partition string) string {
	return string(c) + ":" + segEscaper.Replace(partition) + ":"
}

func collectionPrefix(c model.Collection) string {
	return string(c) + ":"
}

// ParseKey 解析 String 的结果
func ParseKey(raw string) (Key, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Key{}, false
	}
	c := model.Collection(parts[0])
	if !c.Valid() {
		return Key{}, false
	}
	return Key{
		Collection: c,
		Partition:  segUnescaper.Replace(parts[1]),
		ItemID:     segUnescaper.Replace(parts[2]),
	}, true
}
