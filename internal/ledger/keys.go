package ledger

// Key space layout. All documents of one entity share a prefix so they
// can be queried and subscribed to as a group.
//
//	user/<email>                → domain.User
//	account/<userID>            → domain.Account
//	holding/<userID>/<currency> → domain.Holding
//	order/<userID>/<orderID>    → domain.Order

// UserKey returns the document key for a user record, addressed by the
// login email.
func UserKey(email string) string { return "user/" + email }

// AccountKey returns the document key for a user's cash account.
func AccountKey(userID string) string { return "account/" + userID }

// HoldingKey returns the document key for a user's holding in a currency.
func HoldingKey(userID, currency string) string {
	return "holding/" + userID + "/" + currency
}

// HoldingPrefix returns the query prefix covering all of a user's holdings.
func HoldingPrefix(userID string) string { return "holding/" + userID + "/" }

// OrderKey returns the document key for one of a user's orders.
func OrderKey(userID, orderID string) string {
	return "order/" + userID + "/" + orderID
}

// OrderPrefix returns the query prefix covering all of a user's orders.
func OrderPrefix(userID string) string { return "order/" + userID + "/" }

// AllOrdersPrefix covers every order of every user; the evaluator scans
// it once at startup to re-track pending orders.
const AllOrdersPrefix = "order/"
