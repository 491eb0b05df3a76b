package model

import "time"

// Collection 记录所属集合（封闭枚举）
type Collection string

const (
	CollectionUsers         Collection = "users"
	CollectionPosts         Collection = "posts"
	CollectionFollowers     Collection = "followers"
	CollectionFollowing     Collection = "following"
	CollectionChats         Collection = "chats"
	CollectionMessages      Collection = "messages"
	CollectionNotifications Collection = "notifications"
	CollectionBookmarks     Collection = "bookmarks"
	CollectionSettings      Collection = "settings"
	CollectionMedia         Collection = "media"
	CollectionBlockedUsers  Collection = "blocked_users"
	CollectionReactions     Collection = "reactions"
	CollectionTypingStatus  Collection = "typing_status"
	CollectionReadReceipts  Collection = "read_receipts"
	CollectionVoiceMessages Collection = "voice_messages"
	CollectionRides         Collection = "rides"
	CollectionDonations     Collection = "donations"
)

var collections = map[Collection]struct{}{
	CollectionUsers: {}, CollectionPosts: {}, CollectionFollowers: {}, CollectionFollowing: {},
	CollectionChats: {}, CollectionMessages: {}, CollectionNotifications: {}, CollectionBookmarks: {},
	CollectionSettings: {}, CollectionMedia: {}, CollectionBlockedUsers: {}, CollectionReactions: {},
	CollectionTypingStatus: {}, CollectionReadReceipts: {}, CollectionVoiceMessages: {},
	CollectionRides: {}, CollectionDonations: {},
}

func (c Collection) Valid() bool {
	_, ok := collections[c]
	return ok
}

// Collections 返回全部集合
func Collections() []Collection {
	out := make([]Collection, 0, len(collections))
	for c := range collections {
		out = append(out, c)
	}
	return out
}

// NowMillis 记录时间戳统一使用毫秒
func NowMillis() int64 { return time.Now().UnixMilli() }
