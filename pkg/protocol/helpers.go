package protocol

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStateMessage creates a state snapshot message
func NewStateMessage(state StateData) (*Message, error) {
	return NewMessage(TypeState, state)
}

// NewUtteranceMessage creates an utterance message
func NewUtteranceMessage(text string, generation uint64) (*Message, error) {
	return NewMessage(TypeUtterance, UtteranceData{Text: text, Generation: generation})
}

// NewReplyMessage creates a reply message
func NewReplyMessage(text string, generation uint64, fallback bool) (*Message, error) {
	return NewMessage(TypeReply, ReplyData{Text: text, Generation: generation, Fallback: fallback})
}

// NewInterruptedMessage creates an interruption message
func NewInterruptedMessage(reason string, generation uint64) (*Message, error) {
	return NewMessage(TypeInterrupted, InterruptedData{Reason: reason, Generation: generation})
}

// NewRecognitionMessage creates a recognition status message
func NewRecognitionMessage(data RecognitionData) (*Message, error) {
	return NewMessage(TypeRecognition, data)
}

// NewErrorMessage creates an error message
func NewErrorMessage(message, userMessage string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: message, UserMessage: userMessage})
}

// NewControlMessage creates a recognizer control message
func NewControlMessage(command string) (*Message, error) {
	return NewMessage(TypeControl, ControlData{Command: command})
}

// NewNativeMessage creates a browser recognizer callback message
func NewNativeMessage(data NativeData) (*Message, error) {
	return NewMessage(TypeNative, data)
}

// NewCommandMessage creates a user command message
func NewCommandMessage(name string) (*Message, error) {
	return NewMessage(TypeCommand, CommandData{Name: name})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetNativeData extracts a browser recognizer callback from a message
func (m *Message) GetNativeData() (*NativeData, error) {
	var data NativeData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommandData extracts a user command from a message
func (m *Message) GetCommandData() (*CommandData, error) {
	var data CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetReplyData extracts reply data from a message
func (m *Message) GetReplyData() (*ReplyData, error) {
	var data ReplyData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
