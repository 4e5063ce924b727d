package dashboard

import (
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
)

// View is a consumer state as sent to widgets.
type View struct {
	Channel   string     `json:"channel"`
	Data      any        `json:"data"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	Listening bool       `json:"listening"`
	Phase     feed.Phase `json:"phase"`
}

func viewOf[T any](channel string, st feed.State[T]) View {
	v := View{
		Channel:   channel,
		Loading:   st.Loading,
		Listening: st.Listening,
		Phase:     st.Phase,
	}
	if st.Data != nil {
		v.Data = *st.Data
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	return v
}

// Stream is a started-on-demand consumer of any dashboard channel.
type Stream interface {
	Start()
	Refresh()
	Close()
	Changes() <-chan struct{}
	View() View
}

// Open creates the list consumer for a channel. Unknown channels are a
// NotFoundError.
func (s *Service) Open(principals feed.PrincipalSupplier, channel string, limit int) (Stream, error) {
	switch channel {
	case ChannelPipelines:
		f, err := s.Pipelines(principals, limit)
		if err != nil {
			return nil, err
		}
		return f, nil
	case ChannelPendingInputs:
		f, err := s.PendingInputs(principals)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		_, err := s.params(channel, limit)
		return nil, err
	}
}
