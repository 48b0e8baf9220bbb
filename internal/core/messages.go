package core

import "fmt"

// History messages written to import rows.
const (
	MsgUserNotFound       = "User not found"
	MsgCohortNotFound     = "Cohort not found"
	MsgProcessingStart    = "Processing start"
	MsgProcessingDone     = "Processing done"
	MsgPendingUserCreated = "Pending user created"
)

func msgGroupNotFound(token string) string {
	return fmt.Sprintf("Group not found for this id : %s", token)
}

func msgNoGroupInCohortSync(token string) string {
	return fmt.Sprintf("No group found in cohort sync for this idnumber : %s", token)
}

func msgAddedCohort(c Cohort) string {
	return fmt.Sprintf("Added user to cohort \"%s\" (%s)", c.Name, c.IDNumber)
}

func msgRemovedCohort(c Cohort) string {
	return fmt.Sprintf("Removed user from cohort \"%s\" (%s)", c.Name, c.IDNumber)
}

func msgAddedGroup(g CourseGroup) string {
	return fmt.Sprintf("Added user to group \"%s\" (%d) in course \"%s\" (%d)", g.GroupName, g.GroupID, g.CourseName, g.CourseID)
}

func msgRemovedGroup(g CourseGroup) string {
	return fmt.Sprintf("Removed user from group \"%s\" (%d) in course \"%s\" (%d)", g.GroupName, g.GroupID, g.CourseName, g.CourseID)
}

func msgNotEnrolled(g CourseGroup) string {
	return fmt.Sprintf("User not enrolled on course \"%s\" (%d), unable to add user to group \"%s\" (%d)",
		g.CourseName, g.CourseID, g.GroupName, g.GroupID)
}

func msgProcessingFailed(err error) string {
	return fmt.Sprintf("Processing failed: %v", err)
}
