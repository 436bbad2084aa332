package dialer

import (
	"encoding/xml"
	"fmt"
)

// answerResponse is the carrier's answer document. Returned when a lead picks
// up, it instructs the carrier to open a bidirectional media WebSocket to the
// bridge.
type answerResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Stream  answerStream `xml:"Stream"`
}

type answerStream struct {
	Bidirectional bool   `xml:"bidirectional,attr"`
	KeepCallAlive bool   `xml:"keepCallAlive,attr"`
	ContentType   string `xml:"contentType,attr"`
	StreamTimeout int    `xml:"streamTimeout,attr"`
	URL           string `xml:",chardata"`
}

// AnswerXML renders the answer document pointing the carrier's media stream
// at streamURL (a wss:// endpoint).
func AnswerXML(streamURL string) ([]byte, error) {
	doc := answerResponse{
		Stream: answerStream{
			Bidirectional: true,
			KeepCallAlive: true,
			ContentType:   "audio/x-mulaw;rate=8000",
			StreamTimeout: 600,
			URL:           streamURL,
		},
	}

	body, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("dialer: marshal answer document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
