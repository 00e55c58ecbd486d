package global

import "encoding/base32"

// PresenceKey im:presence:<user>:<conn>，同一用户多连接各自一条
func PresenceKey(userID, connID string) string {
	return "im:presence:" + userID + ":" + connID
}

// RoomStreamKey 房间历史 stream
func RoomStreamKey(roomID string) string {
	return "im:room:" + roomID
}

// RoomTopicKey Kafka 消息 key；同房间落同一分区，保证分区内有序
func RoomTopicKey(roomID string) string {
	return "room:" + roomID
}

var subjectEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// subjectSafe 只含这些字符的 roomId 原样作为 subject token
func subjectSafe(roomID string) bool {
	if roomID == "" {
		return false
	}
	for i := 0; i < len(roomID); i++ {
		c := roomID[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// RoomSubject builds a NATS subject. Safe room ids are used as-is; any other
// id becomes "~" + unpadded base32, so distinct rooms never share a subject.
func RoomSubject(prefix, roomID string) string {
	token := roomID
	if !subjectSafe(roomID) {
		token = "~" + subjectEncoding.EncodeToString([]byte(roomID))
	}
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}
