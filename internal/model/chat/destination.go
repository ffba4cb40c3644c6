package chat

// STOMP destinations exposed by the LigoChat server.
const (
	DestinationAnnounce     = "/app/chat.add-user"
	DestinationSend         = "/app/chat.send-message"
	DestinationGrammarCheck = "/app/chat.check-grammar"
	DestinationBotAsk       = "/app/chat.ask-ligobot"

	TopicPublicFeed    = "/topic/public"
	QueueGrammarResult = "/user/queue/private/checkgrammar"
	QueueBotResult     = "/user/queue/private/askligobot"
)

// Route identifies which subscription an inbound payload arrived on.
type Route int

const (
	RoutePublicFeed Route = iota + 1
	RouteGrammarResult
	RouteBotResult
)

// Routes lists every inbound route in subscription order.
var Routes = []Route{RoutePublicFeed, RouteGrammarResult, RouteBotResult}

// Destination returns the subscription destination of r.
func (r Route) Destination() string {
	switch r {
	case RoutePublicFeed:
		return TopicPublicFeed
	case RouteGrammarResult:
		return QueueGrammarResult
	case RouteBotResult:
		return QueueBotResult
	default:
		return ""
	}
}

func (r Route) String() string {
	switch r {
	case RoutePublicFeed:
		return "public-feed"
	case RouteGrammarResult:
		return "grammar-result"
	case RouteBotResult:
		return "bot-result"
	default:
		return "unknown"
	}
}
