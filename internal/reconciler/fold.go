package reconciler

import (
	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/store"
)

// Fold applies one push event to st on behalf of me. It returns the next
// state, the read receipts to send upstream and whether anything changed.
// Fold has no side effects.
func Fold(st store.State, ev model.Event, me model.User) (store.State, []model.ReadRequest, bool) {
	switch e := ev.(type) {
	case model.NewMessage:
		return foldMessage(st, e.Message, me)
	case model.MessageSent:
		if e.Message == nil {
			return st, nil, false
		}
		m := *e.Message
		if m.ThreadID == "" {
			m.ThreadID = e.ThreadID
		}
		return foldMessage(st, m, me)
	case model.MessageDeleted:
		next, ok := st.DeleteMessage(e.MessageID, e.ThreadID)
		return next, nil, ok
	case model.MessageRead:
		// own receipts are recorded locally
		if e.ReaderID == me.ID {
			return st, nil, false
		}
		r := model.ReadReceipt{UserID: e.ReaderID, UserName: e.ReaderName, ReadAt: e.ReadAt}
		next, ok := st.MarkMessageAsRead(e.MessageID, e.ThreadID, r)
		return next, nil, ok
	case model.UnreadCount:
		if t, ok := st.Thread(e.ThreadID); !ok || t.UnreadCount == e.Count {
			return st, nil, false
		}
		next, ok := st.SetUnreadCount(e.ThreadID, e.Count)
		return next, nil, ok
	default:
		return st, nil, false
	}
}

func foldMessage(st store.State, m model.Message, me model.User) (store.State, []model.ReadRequest, bool) {
	if m.ID == "" || m.ThreadID == "" {
		return st, nil, false
	}
	next, added := st.AddMessage(m)
	if !added {
		return st, nil, false
	}
	next, _ = next.TouchThread(m)
	if m.SenderID == me.ID {
		return next, nil, true
	}

	if m.ThreadID != next.CurrentThreadID {
		next, _ = next.IncrementUnread(m.ThreadID)
		return next, nil, true
	}
	return next, []model.ReadRequest{{
		ThreadID:  m.ThreadID,
		MessageID: m.ID,
		UserID:    me.ID,
		UserName:  me.Name,
	}}, true
}
