package commcore

//	Fault is the wire-level error payload a port replies with instead
//	of a normal response value (spec.md §3, §4.6, §7). It travels inside
//	a Message the same way a normal payload does.
type Fault struct {
	Name    string
	Message string
}

func (f Fault) Error() string {
	return f.Name + ": " + f.Message
}

//	FaultFor converts an internal error into the wire Fault spec.md §7
//	prescribes for it. Every error maps to some Fault: a type with no
//	case of its own (ChannelClosing among them) becomes an IOException
//	fault carrying err's text.
func FaultFor(err error) Fault {
	switch e := err.(type) {
	case *InvalidOperationError:
		return Fault{Name: "IOException", Message: e.Error()}
	case *TypeCheckingException:
		return Fault{Name: "TypeMismatch", Message: e.Error()}
	case *CorrelationError:
		return Fault{Name: "CorrelationError", Message: e.Error()}
	case *IOException:
		return Fault{Name: "IOException", Message: e.Error()}
	default:
		return Fault{Name: "IOException", Message: err.Error()}
	}
}
