package relay_test

import "github.com/farmpulse/storepulse/internal/domain"

func receiverMsg(receiverID, content string) domain.ConversationMessage {
	return domain.ConversationMessage{ReceiverID: receiverID, Content: content, Kind: domain.MessageKindText}
}
