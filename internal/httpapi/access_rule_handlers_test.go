package httpapi

import (
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"accessgate.org/internal/auth"
)

var ruleCols = []string{"role_id", "name", "read", "read_all", "create", "update", "update_all", "delete", "delete_all"}

func TestListAccessRules(t *testing.T) {
	c := newTestAPI(t)
	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermRead, auth.PermReadAll)
	c.mock.ExpectQuery("join business_elements be").WithArgs(roleID, "order", 50, 0).
		WillReturnRows(sqlmock.NewRows(ruleCols).AddRow(roleID, "order", true, false, true, true, false, true, false))
	c.mock.ExpectCommit()

	resp := c.do(http.MethodGet, "/v1/access-rules?element=order&role_id="+roleID, nil, bearerHeader(c.accessToken(aliceID)))
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		Items []auth.AccessRule `json:"items"`
	}
	decodeBody(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0].Element != auth.ElementOrder || !body.Items[0].Create || body.Items[0].ReadAll {
		t.Fatalf("unexpected body %+v", body)
	}
	c.verify()
}

func TestListAccessRulesNeedsReadAll(t *testing.T) {
	c := newTestAPI(t)
	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermRead)
	c.mock.ExpectRollback()

	expectStatus(t, c.do(http.MethodGet, "/v1/access-rules", nil, bearerHeader(c.accessToken(aliceID))), http.StatusForbidden)
	c.verify()
}

func TestListAccessRulesValidatesQuery(t *testing.T) {
	c := newTestAPI(t)
	token := c.accessToken(aliceID)
	for _, query := range []string{"?role_id=nope", "?element=invoice", "?limit=0"} {
		c.mock.ExpectBegin()
		expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermReadAll)
		c.mock.ExpectRollback()
		expectStatus(t, c.do(http.MethodGet, "/v1/access-rules"+query, nil, bearerHeader(token)), http.StatusBadRequest)
	}
	c.verify()
}

func TestPatchAccessRule(t *testing.T) {
	c := newTestAPI(t)
	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermReadAll, auth.PermUpdateAll)
	c.mock.ExpectQuery("update access_rules ar").WithArgs(roleID, "order", true).
		WillReturnRows(sqlmock.NewRows(ruleCols).AddRow(roleID, "order", true, true, true, true, false, true, false))
	c.mock.ExpectCommit()

	resp := c.do(http.MethodPatch, "/v1/access-rules/"+roleID+"/order", map[string]bool{"read_all": true}, bearerHeader(c.accessToken(aliceID)))
	expectStatus(t, resp, http.StatusOK)
	var rule auth.AccessRule
	decodeBody(t, resp, &rule)
	if rule.RoleID != roleID || !rule.ReadAll {
		t.Fatalf("rule = %+v", rule)
	}
	c.verify()
}

func TestPatchAccessRuleRejections(t *testing.T) {
	c := newTestAPI(t)
	token := c.accessToken(aliceID)

	// update on an unowned record is not enough
	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermUpdate)
	c.mock.ExpectRollback()
	expectStatus(t, c.do(http.MethodPatch, "/v1/access-rules/"+roleID+"/order", map[string]bool{"read": true}, bearerHeader(token)), http.StatusForbidden)

	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermUpdateAll)
	c.mock.ExpectRollback()
	expectStatus(t, c.do(http.MethodPatch, "/v1/access-rules/"+roleID+"/order", map[string]bool{}, bearerHeader(token)), http.StatusBadRequest)

	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermUpdateAll)
	c.mock.ExpectRollback()
	expectStatus(t, c.do(http.MethodPatch, "/v1/access-rules/"+roleID+"/invoice", map[string]bool{"read": true}, bearerHeader(token)), http.StatusNotFound)

	c.mock.ExpectBegin()
	expectResolve(c.mock, aliceID, auth.ElementAccessRule, auth.PermUpdateAll)
	c.mock.ExpectQuery("update access_rules ar").WithArgs(roleID, "order", false).WillReturnRows(sqlmock.NewRows(ruleCols))
	c.mock.ExpectRollback()
	expectStatus(t, c.do(http.MethodPatch, "/v1/access-rules/"+roleID+"/order", map[string]bool{"delete": false}, bearerHeader(token)), http.StatusNotFound)
	c.verify()
}
