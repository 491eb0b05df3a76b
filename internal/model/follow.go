package model

// Follow 关注关系（A 关注 B），冗余写两份：
// following/<A>/<B> 与 followers/<B>/<A>
type Follow struct {
	FollowerID string `json:"followerId"`
	FolloweeID string `json:"followeeId"`
	Timestamp  int64  `json:"timestamp"`
}
