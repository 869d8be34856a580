package domain

// Class names and fields of the platform's built-in collections.
const (
	ClassUser         = "_User"
	ClassInstallation = "_Installation"
	ClassReview       = "Review"

	FieldObjectID = "objectId"
	FieldPlan     = "plan"
	FieldMovie    = "movie"
	FieldStars    = "stars"
)

// UserRecord is the slice of a user the migration job touches. Other
// fields of the stored record are left as they are.
type UserRecord struct {
	ObjectID string `json:"objectId"`
	Plan     any    `json:"plan,omitempty"`
}
